package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeScanner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeScanner) RunComprehensive(ctx context.Context, companyID string) (*domain.ComprehensiveResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now().UTC()
	return &domain.ComprehensiveResult{
		CompanyID:  companyID,
		StartedAt:  now,
		FinishedAt: now,
		Detections: map[domain.FraudType]domain.BranchResult{
			domain.FraudRoundNumber:      {Detections: []*domain.Detection{{ID: "d1"}, {ID: "d2"}}},
			domain.FraudDuplicateInvoice: {Error: &domain.BranchError{Kind: domain.KindUpstream, Message: "down"}},
		},
		Benford: map[domain.DataType]domain.BenfordBranch{
			domain.DataInvoices: {Analysis: &domain.BenfordAnalysis{IsSignificant: true}},
		},
	}, nil
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeScanner{}, nil)
		if err := w.Start(Config{CompanyIDs: []string{"company-001", "company-002"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}
		for _, topic := range stats.Topics {
			if topic != domain.TopicScanRequested {
				t.Errorf("unexpected topic %q", topic)
			}
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if n := w.GetStats().SubscriptionCount; n != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", n)
		}
	})

	t.Run("PublishesScanSummary", func(t *testing.T) {
		scanner := &fakeScanner{}
		w := NewWorker(eventBus, scanner, nil)
		if err := w.Start(Config{CompanyIDs: []string{"company-003"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		done := make(chan domain.ScanSummary, 1)
		sub, err := eventBus.Subscribe(context.Background(), "company-003", domain.TopicScanCompleted,
			func(ctx context.Context, msg *domain.Message) error {
				var s domain.ScanSummary
				if err := json.Unmarshal(msg.Payload, &s); err != nil {
					return err
				}
				done <- s
				return nil
			})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		err = bus.PublishJSON(context.Background(), eventBus, "company-003", domain.TopicScanRequested,
			domain.ScanRequest{RequestedBy: "scheduler"})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case s := <-done:
			if s.CompanyID != "company-003" || s.RequestedBy != "scheduler" {
				t.Errorf("unexpected summary: %+v", s)
			}
			if s.TotalDetections != 2 {
				t.Errorf("expected 2 detections, got %d", s.TotalDetections)
			}
			if s.Failed[string(domain.FraudDuplicateInvoice)] != domain.KindUpstream {
				t.Errorf("expected failed duplicate branch, got %v", s.Failed)
			}
			if len(s.SignificantBenford) != 1 || s.SignificantBenford[0] != domain.DataInvoices {
				t.Errorf("expected significant invoices, got %v", s.SignificantBenford)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for scan summary")
		}

		if scanner.calls.Load() != 1 {
			t.Errorf("expected 1 scan, got %d", scanner.calls.Load())
		}
	})

	t.Run("GlobalRequestReply", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeScanner{}, nil)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		payload, _ := json.Marshal(domain.ScanRequest{CompanyID: "company-004", RequestedBy: "cli"})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, GlobalCompany, domain.TopicScanRequested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}

		var s domain.ScanSummary
		if err := json.Unmarshal(reply, &s); err != nil {
			t.Fatalf("bad reply: %v", err)
		}
		if s.CompanyID != "company-004" || s.TotalDetections != 2 {
			t.Errorf("unexpected reply: %+v", s)
		}
		if got := w.GetStats().Completed; got != 1 {
			t.Errorf("expected 1 completed scan, got %d", got)
		}
	})
}

func TestHandleMessageRequiresCompany(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	scanner := &fakeScanner{}
	w := NewWorker(eventBus, scanner, nil)

	err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", CompanyID: GlobalCompany})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	err = w.handleMessage(context.Background(), &domain.Message{ID: "m2", CompanyID: GlobalCompany, Payload: []byte("{")})
	if err == nil {
		t.Error("expected error for malformed payload")
	}

	if scanner.calls.Load() != 0 {
		t.Errorf("scanner should not run, got %d calls", scanner.calls.Load())
	}
}

func TestScanFailure(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := NewWorker(eventBus, &fakeScanner{err: errors.New("boom")}, nil)
	msg := &domain.Message{ID: "m1", CompanyID: "company-001"}

	if err := w.handleMessage(context.Background(), msg); err == nil {
		t.Fatal("expected scan error")
	}
	if got := w.GetStats().Failed; got != 1 {
		t.Errorf("expected 1 failed scan, got %d", got)
	}
}

func TestScanThrottle(t *testing.T) {
	scanner := &fakeScanner{}
	w := NewWorker(bus.NewChannelBus(10), scanner, cache.NewLRUCache(100))
	w.cfg = Config{MaxScansPerWindow: 2, ThrottleWindow: time.Minute}

	ctx := context.Background()
	req := domain.ScanRequest{CompanyID: "company-001"}

	for i := 0; i < 2; i++ {
		s, err := w.Scan(ctx, req)
		if err != nil {
			t.Fatalf("Scan %d failed: %v", i, err)
		}
		if s.Skipped != "" {
			t.Errorf("scan %d should run, skipped %q", i, s.Skipped)
		}
	}

	s, err := w.Scan(ctx, req)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if s.Skipped != SkipThrottled {
		t.Errorf("expected throttled, got %q", s.Skipped)
	}

	// Other companies have their own budget.
	s, err = w.Scan(ctx, domain.ScanRequest{CompanyID: "company-002"})
	if err != nil || s.Skipped != "" {
		t.Errorf("expected company-002 to scan, got %+v, %v", s, err)
	}

	if scanner.calls.Load() != 3 {
		t.Errorf("expected 3 scans, got %d", scanner.calls.Load())
	}
	if got := w.GetStats().Throttled; got != 1 {
		t.Errorf("expected 1 throttled, got %d", got)
	}
}

func TestScanLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer rc.Close()

	scanner := &fakeScanner{}
	w := NewWorker(bus.NewChannelBus(10), scanner, rc)
	w.cfg = Config{LockTTL: time.Minute}
	if w.locker == nil {
		t.Fatal("expected a redis locker")
	}

	ctx := context.Background()
	req := domain.ScanRequest{CompanyID: "company-001"}

	if err := mr.Set(lockPrefix+"company-001", "other-replica"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s, err := w.Scan(ctx, req)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if s.Skipped != SkipLocked {
		t.Errorf("expected locked, got %q", s.Skipped)
	}
	if scanner.calls.Load() != 0 {
		t.Errorf("locked scan should not run")
	}

	mr.Del(lockPrefix + "company-001")

	s, err = w.Scan(ctx, req)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if s.Skipped != "" || scanner.calls.Load() != 1 {
		t.Errorf("expected scan to run, got %+v", s)
	}
	if mr.Exists(lockPrefix + "company-001") {
		t.Error("lock should be released after the scan")
	}
}

func TestNoLockerWithoutRedis(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(10), &fakeScanner{}, cache.NewLRUCache(10))
	if w.locker != nil {
		t.Error("memory cache should not provide a locker")
	}
}

func TestTarget(t *testing.T) {
	cfg := domain.WorkerConfig{CompanyIDs: []string{"company-001"}}

	if got := Target(cfg, "company-001"); got != "company-001" {
		t.Errorf("expected company-001, got %q", got)
	}
	if got := Target(cfg, "company-009"); got != GlobalCompany {
		t.Errorf("expected %q, got %q", GlobalCompany, got)
	}
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(domain.WorkerConfig{MaxScansPerWindow: 3, ThrottleWindow: 30, LockTTL: 0})
	if c.ThrottleWindow != 30*time.Second {
		t.Errorf("expected 30s window, got %s", c.ThrottleWindow)
	}
	if c.LockTTL != 5*time.Minute {
		t.Errorf("expected default lock TTL, got %s", c.LockTTL)
	}
	if c.MaxScansPerWindow != 3 {
		t.Errorf("expected 3 scans per window, got %d", c.MaxScansPerWindow)
	}
}
