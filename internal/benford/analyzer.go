package benford

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// AmountSource supplies the amount sample of one data type.
type AmountSource interface {
	ListAmounts(ctx context.Context, companyID string, dataType domain.DataType) ([]float64, error)
}

// AnalysisStore persists analyses.
type AnalysisStore interface {
	SaveBenfordAnalysis(ctx context.Context, companyID string, a *domain.BenfordAnalysis) error
	GetBenfordAnalysis(ctx context.Context, companyID string, id string) (*domain.BenfordAnalysis, error)
}

// Analyzer runs and stores Benford analyses.
type Analyzer struct {
	source AmountSource
	store  AnalysisStore
	now    func() time.Time
}

// NewAnalyzer creates an analyzer over the given source and store.
func NewAnalyzer(source AmountSource, store AnalysisStore) *Analyzer {
	return &Analyzer{
		source: source,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the analysis timestamp source.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Analyze runs one analysis over the company's sample and stores it as a new record.
func (a *Analyzer) Analyze(ctx context.Context, companyID string, dataType domain.DataType) (*domain.BenfordAnalysis, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}
	if !dataType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDataType, dataType)
	}

	amounts, err := a.source.ListAmounts(ctx, companyID, dataType)
	if err != nil {
		return nil, domain.Upstream("list amounts", err)
	}

	res, err := Evaluate(amounts)
	if err != nil {
		return nil, fmt.Errorf("%s for company %s: %w", dataType, companyID, err)
	}

	analysis := &domain.BenfordAnalysis{
		ID:                  uuid.New().String(),
		CompanyID:           companyID,
		DataType:            dataType,
		TotalRecords:        res.TotalRecords,
		BenfordDistribution: res.Expected,
		ActualDistribution:  res.Actual,
		ChiSquareStatistic:  res.ChiSquare,
		DegreesOfFreedom:    domain.BenfordDegreesOfFreedom,
		PValue:              res.PValue,
		IsSignificant:       res.Significant,
		ConfidenceLevel:     ConfidenceLevel,
		Anomalies:           res.Anomalies,
		AnalyzedAt:          a.now(),
	}

	if err := a.store.SaveBenfordAnalysis(ctx, companyID, analysis); err != nil {
		return nil, fmt.Errorf("failed to save benford analysis: %w", err)
	}

	slog.Debug("benford analysis stored",
		"company_id", companyID,
		"data_type", dataType,
		"total_records", analysis.TotalRecords,
		"chi_square", analysis.ChiSquareStatistic,
		"significant", analysis.IsSignificant,
	)

	return analysis, nil
}

// Report loads a stored analysis and pairs it with its interpretation.
func (a *Analyzer) Report(ctx context.Context, companyID, analysisID string) (*domain.BenfordReport, error) {
	if companyID == "" || analysisID == "" {
		return nil, fmt.Errorf("%w: companyID and analysisID are required", domain.ErrValidation)
	}

	analysis, err := a.store.GetBenfordAnalysis(ctx, companyID, analysisID)
	if err != nil {
		return nil, err
	}

	return &domain.BenfordReport{
		Analysis:       analysis,
		Interpretation: Interpret(analysis),
	}, nil
}
