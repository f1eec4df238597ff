// Package worker runs comprehensive scans requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalCompany is the pseudo company a worker listens on when it is not
// bound to a fixed list of companies.
const GlobalCompany = "_global"

const (
	throttleKey = "scan_requests"
	lockPrefix  = "kestrel:lock:scan:"

	// Skip reasons reported in ScanSummary.Skipped.
	SkipThrottled = "throttled"
	SkipLocked    = "locked"
)

// Scanner runs every detector and Benford analysis for a company.
type Scanner interface {
	RunComprehensive(ctx context.Context, companyID string) (*domain.ComprehensiveResult, error)
}

// Config holds worker configuration.
type Config struct {
	// CompanyIDs is the list of companies to serve (empty = GlobalCompany)
	CompanyIDs []string

	// MaxScansPerWindow caps accepted scans per company and window (0 = unlimited)
	MaxScansPerWindow int
	ThrottleWindow    time.Duration

	// LockTTL bounds how long one replica holds a company's scan lock
	LockTTL time.Duration
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg domain.WorkerConfig) Config {
	c := Config{
		CompanyIDs:        cfg.CompanyIDs,
		MaxScansPerWindow: cfg.MaxScansPerWindow,
		ThrottleWindow:    time.Duration(cfg.ThrottleWindow) * time.Second,
		LockTTL:           time.Duration(cfg.LockTTL) * time.Second,
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Target returns the company a scan request for companyID must be published
// to so that a worker running with cfg receives it.
func Target(cfg domain.WorkerConfig, companyID string) string {
	if slices.Contains(cfg.CompanyIDs, companyID) {
		return companyID
	}
	return GlobalCompany
}

// Worker consumes scan requests from the EventBus.
type Worker struct {
	bus     domain.EventBus
	scanner Scanner
	cache   domain.Cache
	locker  *redislock.Client
	cfg     Config

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	completed atomic.Int64
	throttled atomic.Int64
	locked    atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a scan worker. The cache may be nil; when it is backed
// by Redis, scans also take a per-company lock.
func NewWorker(b domain.EventBus, scanner Scanner, c domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:     b,
		scanner: scanner,
		cache:   c,
		ctx:     ctx,
		cancel:  cancel,
	}
	if client := cache.RedisClient(c); client != nil {
		w.locker = redislock.New(client)
	}
	return w
}

// Start subscribes to scan requests for the configured companies.
func (w *Worker) Start(cfg Config) error {
	w.cfg = cfg

	companies := cfg.CompanyIDs
	if len(companies) == 0 {
		companies = []string{GlobalCompany}
	}

	for _, companyID := range companies {
		sub, err := w.bus.Subscribe(w.ctx, companyID, domain.TopicScanRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for company",
				"company_id", companyID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if w.GetStats().SubscriptionCount == 0 {
		return errors.New("worker has no subscriptions")
	}

	slog.Info("scan workers started",
		"company_count", len(companies),
		"locking", w.locker != nil,
	)
	return nil
}

// handleMessage decodes a scan request and answers it.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ScanRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse scan request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}
	if req.CompanyID == "" && msg.CompanyID != GlobalCompany {
		req.CompanyID = msg.CompanyID
	}
	if req.CompanyID == "" {
		return fmt.Errorf("%w: scan request %s has no companyId", domain.ErrValidation, msg.ID)
	}

	summary, err := w.Scan(ctx, req)
	if err != nil {
		w.failed.Add(1)
		return err
	}

	if err := bus.PublishJSON(ctx, w.bus, req.CompanyID, domain.TopicScanCompleted, summary); err != nil {
		slog.Error("failed to publish scan summary",
			"company_id", req.CompanyID,
			"error", err,
		)
	}

	reply, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return bus.Respond(ctx, w.bus, msg, reply)
}

// Scan runs one requested scan unless the company is throttled or already
// being scanned by another replica.
func (w *Worker) Scan(ctx context.Context, req domain.ScanRequest) (*domain.ScanSummary, error) {
	skipped := &domain.ScanSummary{
		CompanyID:       req.CompanyID,
		RequestedBy:     req.RequestedBy,
		DetectionCounts: map[domain.FraudType]int{},
	}

	if w.isThrottled(ctx, req.CompanyID) {
		w.throttled.Add(1)
		skipped.Skipped = SkipThrottled
		slog.Warn("scan throttled", "company_id", req.CompanyID, "requested_by", req.RequestedBy)
		return skipped, nil
	}

	if w.locker != nil {
		lock, err := w.locker.Obtain(ctx, lockPrefix+req.CompanyID, w.lockTTL(), nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			w.locked.Add(1)
			skipped.Skipped = SkipLocked
			slog.Info("scan already running elsewhere", "company_id", req.CompanyID)
			return skipped, nil
		case err != nil:
			slog.Warn("error obtaining scan lock; proceeding without lock",
				"company_id", req.CompanyID,
				"error", err,
			)
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					slog.Warn("failed to release scan lock", "company_id", req.CompanyID, "error", err)
				}
			}()
		}
	}

	start := time.Now()
	result, err := w.scanner.RunComprehensive(ctx, req.CompanyID)
	if err != nil {
		slog.Error("comprehensive scan failed",
			"company_id", req.CompanyID,
			"error", err,
		)
		return nil, err
	}

	summary := result.Summary()
	summary.RequestedBy = req.RequestedBy
	w.completed.Add(1)

	slog.Info("scan request processed",
		"company_id", req.CompanyID,
		"requested_by", req.RequestedBy,
		"detections", summary.TotalDetections,
		"failed_branches", len(summary.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &summary, nil
}

func (w *Worker) isThrottled(ctx context.Context, companyID string) bool {
	if w.cache == nil || w.cfg.MaxScansPerWindow <= 0 {
		return false
	}
	window := w.cfg.ThrottleWindow
	if window <= 0 {
		window = time.Minute
	}
	n, err := w.cache.IncrementCounter(ctx, companyID, throttleKey, window)
	if err != nil {
		slog.Warn("scan throttle unavailable", "company_id", companyID, "error", err)
		return false
	}
	return n > int64(w.cfg.MaxScansPerWindow)
}

func (w *Worker) lockTTL() time.Duration {
	if w.cfg.LockTTL > 0 {
		return w.cfg.LockTTL
	}
	return 5 * time.Minute
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("scan workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Completed         int64    `json:"completed"`
	Throttled         int64    `json:"throttled"`
	Locked            int64    `json:"locked"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Completed:         w.completed.Load(),
		Throttled:         w.throttled.Load(),
		Locked:            w.locked.Load(),
		Failed:            w.failed.Load(),
	}
}
