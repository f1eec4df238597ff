package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RunComprehensive runs every detector and every Benford data type in
// parallel. At most MaxConcurrency branches run at once. A failing branch is
// reported in its own slot and never cancels its siblings.
func (s *Service) RunComprehensive(ctx context.Context, companyID string) (*domain.ComprehensiveResult, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "engine.comprehensive", trace.WithAttributes(
		attribute.String("company_id", companyID),
		attribute.Int("max_parallel", s.maxParallel),
	))
	defer span.End()

	result := &domain.ComprehensiveResult{
		CompanyID:  companyID,
		StartedAt:  s.now(),
		Detections: make(map[domain.FraudType]domain.BranchResult, len(domain.AllFraudTypes())),
		Benford:    make(map[domain.DataType]domain.BenfordBranch, len(domain.AllDataTypes())),
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.maxParallel)
	)

	for _, d := range s.suite.All() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			detections, err := s.detect(ctx, d, companyID)

			mu.Lock()
			result.Detections[d.Type()] = domain.BranchResult{
				Detections: detections,
				Error:      domain.NewBranchError(err),
			}
			mu.Unlock()
		}()
	}

	for _, dataType := range domain.AllDataTypes() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			analysis, err := s.AnalyzeBenford(ctx, companyID, dataType)

			mu.Lock()
			result.Benford[dataType] = domain.BenfordBranch{
				Analysis: analysis,
				Error:    domain.NewBranchError(err),
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	result.FinishedAt = s.now()

	summary := result.Summary()
	span.SetAttributes(
		attribute.Int("detections", summary.TotalDetections),
		attribute.Int("failed_branches", len(summary.Failed)),
	)

	slog.Info("comprehensive scan completed",
		"company_id", companyID,
		"detections", summary.TotalDetections,
		"failed_branches", len(summary.Failed),
		"significant_benford", len(summary.SignificantBenford),
	)

	return result, nil
}
