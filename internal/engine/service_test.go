package engine

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const testCompany = "company-001"

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "engine-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seed writes one silent employee, a vendor without contact details and two
// round-number transactions.
func seed(t *testing.T, repo *repository.SQLRepository) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.SaveEmployee(ctx, testCompany, &domain.Employee{
		ID: "emp-1", Name: "Pat Doe", Department: "Operations", Salary: 90000,
		HireDate: now.AddDate(0, -6, 0), IsActive: true,
	}))
	require.NoError(t, repo.SaveVendor(ctx, testCompany, &domain.Vendor{ID: "v1", Name: "Acme Supplies"}))
	require.NoError(t, repo.SaveTransaction(ctx, testCompany, &domain.Transaction{
		ID: "tx-1", VendorID: "v1", Amount: 10000, TransactionDate: now.AddDate(0, 0, -2),
	}))
	require.NoError(t, repo.SaveTransaction(ctx, testCompany, &domain.Transaction{
		ID: "tx-2", VendorID: "v1", Amount: 5500, TransactionDate: now.AddDate(0, 0, -3),
	}))
}

func TestRunComprehensive(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	var created atomic.Int32
	_, err := eventBus.Subscribe(context.Background(), testCompany, domain.TopicDetectionCreated,
		func(ctx context.Context, msg *domain.Message) error {
			created.Add(1)
			return nil
		})
	require.NoError(t, err)

	svc := New(repo, Options{Bus: eventBus})

	res, err := svc.RunComprehensive(context.Background(), testCompany)
	require.NoError(t, err)

	require.Len(t, res.Detections, 5)
	require.Len(t, res.Benford, 4)

	for _, ft := range domain.AllFraudTypes() {
		assert.Nil(t, res.Detections[ft].Error, "branch %s", ft)
	}
	assert.Len(t, res.Detections[domain.FraudGhostEmployee].Detections, 1)
	assert.Len(t, res.Detections[domain.FraudRoundNumber].Detections, 2)
	assert.Len(t, res.Detections[domain.FraudSuspiciousVendor].Detections, 1)
	assert.Empty(t, res.Detections[domain.FraudSplitTransaction].Detections)
	assert.Empty(t, res.Detections[domain.FraudDuplicateInvoice].Detections)

	tx := res.Benford[domain.DataTransactions]
	require.Nil(t, tx.Error)
	assert.Equal(t, 2, tx.Analysis.TotalRecords)

	for _, dt := range []domain.DataType{domain.DataExpenses, domain.DataInvoices, domain.DataPayments} {
		require.NotNil(t, res.Benford[dt].Error, "benford %s", dt)
		assert.Equal(t, domain.KindNoData, res.Benford[dt].Error.Kind)
	}

	summary := res.Summary()
	assert.Equal(t, 4, summary.TotalDetections)
	assert.Len(t, summary.Failed, 3)

	assert.Eventually(t, func() bool { return created.Load() == 4 }, time.Second, 10*time.Millisecond)

	stored, err := repo.ListDetections(context.Background(), testCompany, domain.DetectionFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	// ghost/high, round_number/high, round_number/medium, vendor/medium
	assert.Equal(t, 4, testutil.CollectAndCount(svc.Metrics().Registry(), "kestrel_detections_total"))
}

type failingInvoices struct {
	*repository.SQLRepository
}

func (f failingInvoices) ListInvoices(context.Context, string) ([]domain.Invoice, error) {
	return nil, errors.New("connection reset")
}

// flakyReports fails every ghost report write after the first.
type flakyReports struct {
	*repository.SQLRepository
	saved atomic.Int32
}

func (f *flakyReports) SaveGhostReport(ctx context.Context, companyID string, g *domain.GhostEmployeeReport) error {
	if f.saved.Add(1) > 1 {
		return errors.New("disk full")
	}
	return f.SQLRepository.SaveGhostReport(ctx, companyID, g)
}

func TestPartialGhostRunIsAnnounced(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	hired := time.Now().UTC().AddDate(-1, 0, 0)
	for _, id := range []string{"emp-1", "emp-2"} {
		require.NoError(t, repo.SaveEmployee(ctx, testCompany, &domain.Employee{
			ID: id, Name: id, HireDate: hired, IsActive: true,
		}))
	}

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })
	var created atomic.Int32
	_, err := eventBus.Subscribe(ctx, testCompany, domain.TopicDetectionCreated,
		func(ctx context.Context, msg *domain.Message) error {
			created.Add(1)
			return nil
		})
	require.NoError(t, err)

	svc := New(&flakyReports{SQLRepository: repo}, Options{Bus: eventBus})

	dets, err := svc.DetectGhostEmployees(ctx, testCompany)
	require.Error(t, err)
	require.Len(t, dets, 2, "both detections were saved before the second report failed")

	assert.Eventually(t, func() bool { return created.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, scrape(t, svc.Metrics()),
		`kestrel_detections_total{fraud_type="ghost_employee",severity="high"} 2`)

	res, err := svc.RunComprehensive(ctx, testCompany)
	require.NoError(t, err)
	ghost := res.Detections[domain.FraudGhostEmployee]
	require.NotNil(t, ghost.Error)
	assert.Len(t, ghost.Detections, 1)
	assert.Equal(t, 1, res.Summary().DetectionCounts[domain.FraudGhostEmployee])
}

func TestRunComprehensiveIsolatesFailures(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	svc := New(failingInvoices{repo}, Options{})

	res, err := svc.RunComprehensive(context.Background(), testCompany)
	require.NoError(t, err)

	dup := res.Detections[domain.FraudDuplicateInvoice]
	require.NotNil(t, dup.Error)
	assert.Equal(t, domain.KindUpstream, dup.Error.Kind)
	assert.Contains(t, dup.Error.Message, "connection reset")

	assert.Nil(t, res.Detections[domain.FraudRoundNumber].Error)
	assert.Len(t, res.Detections[domain.FraudRoundNumber].Detections, 2)
	assert.Nil(t, res.Benford[domain.DataTransactions].Error)
}

// slowRecords holds every record read for a moment and tracks how many overlap.
type slowRecords struct {
	*repository.SQLRepository
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (s *slowRecords) enter() func() {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	return func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
}

func (s *slowRecords) ListEmployeeActivity(ctx context.Context, c string, h, since time.Time) ([]domain.EmployeeActivity, error) {
	defer s.enter()()
	return s.SQLRepository.ListEmployeeActivity(ctx, c, h, since)
}

func (s *slowRecords) ListTransactions(ctx context.Context, c string, since time.Time) ([]domain.Transaction, error) {
	defer s.enter()()
	return s.SQLRepository.ListTransactions(ctx, c, since)
}

func (s *slowRecords) ListInvoices(ctx context.Context, c string) ([]domain.Invoice, error) {
	defer s.enter()()
	return s.SQLRepository.ListInvoices(ctx, c)
}

func (s *slowRecords) ListVendorActivity(ctx context.Context, c string) ([]domain.VendorActivity, error) {
	defer s.enter()()
	return s.SQLRepository.ListVendorActivity(ctx, c)
}

func (s *slowRecords) ListAmounts(ctx context.Context, c string, dt domain.DataType) ([]float64, error) {
	defer s.enter()()
	return s.SQLRepository.ListAmounts(ctx, c, dt)
}

func TestRunComprehensiveBoundsConcurrency(t *testing.T) {
	repo := newTestRepo(t)
	slow := &slowRecords{SQLRepository: repo}

	cfg := domain.DefaultDetectionConfig()
	cfg.MaxConcurrency = 2
	svc := New(slow, Options{Detection: cfg})

	_, err := svc.RunComprehensive(context.Background(), testCompany)
	require.NoError(t, err)

	assert.LessOrEqual(t, slow.maxSeen, 2)
	assert.GreaterOrEqual(t, slow.maxSeen, 1)
}

func TestRunComprehensiveRequiresCompany(t *testing.T) {
	svc := New(newTestRepo(t), Options{})

	_, err := svc.RunComprehensive(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolve(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })
	resolved := make(chan *domain.Message, 1)
	_, err := eventBus.Subscribe(context.Background(), testCompany, domain.TopicDetectionResolved,
		func(ctx context.Context, msg *domain.Message) error {
			resolved <- msg
			return nil
		})
	require.NoError(t, err)

	collector := metrics.NewCollector()
	svc := New(repo, Options{Bus: eventBus, Metrics: collector})
	ctx := context.Background()

	dets, err := svc.DetectRoundNumberTransactions(ctx, testCompany)
	require.NoError(t, err)
	require.NotEmpty(t, dets)
	id := dets[0].ID

	t.Run("invalid input is rejected before persistence", func(t *testing.T) {
		invalid := []domain.Resolution{
			{Notes: "", Type: domain.ResolutionFalsePositive},
			{Notes: "  \t ", Type: domain.ResolutionFalsePositive},
			{Notes: "checked", Type: ""},
			{Notes: "checked", Type: "ignored"},
		}
		for _, res := range invalid {
			_, err := svc.Resolve(ctx, testCompany, id, res)
			assert.ErrorIs(t, err, domain.ErrValidation, "%+v", res)
		}

		_, err := svc.Resolve(ctx, testCompany, "", domain.Resolution{Notes: "n", Type: domain.ResolutionOther})
		assert.ErrorIs(t, err, domain.ErrValidation)

		stored, err := repo.GetDetection(ctx, testCompany, id)
		require.NoError(t, err)
		assert.False(t, stored.IsResolved)
	})

	t.Run("resolves once", func(t *testing.T) {
		res := domain.Resolution{Notes: "Approved capital purchase", Type: domain.ResolutionFalsePositive}

		det, err := svc.Resolve(ctx, testCompany, id, res)
		require.NoError(t, err)
		assert.True(t, det.IsResolved)
		assert.Equal(t, domain.ResolutionFalsePositive, det.ResolutionType)

		_, err = svc.Resolve(ctx, testCompany, id, res)
		assert.ErrorIs(t, err, domain.ErrConflict)

		select {
		case msg := <-resolved:
			assert.Equal(t, testCompany, msg.CompanyID)
		case <-time.After(time.Second):
			t.Fatal("expected a resolved event")
		}

		assert.Contains(t, scrape(t, collector),
			`kestrel_resolutions_total{fraud_type="round_number_transaction",resolution_type="false_positive"} 1`)
	})

	t.Run("other company sees not found", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "company-002", dets[1].ID,
			domain.Resolution{Notes: "n", Type: domain.ResolutionOther})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestResolveGhostReport(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	svc := New(repo, Options{})
	ctx := context.Background()

	_, err := svc.DetectGhostEmployees(ctx, testCompany)
	require.NoError(t, err)

	reports, err := svc.GhostReports(ctx, testCompany, 30)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.ActivityNone, reports[0].ActivityStatus)

	_, err = svc.ResolveGhostReport(ctx, testCompany, reports[0].ID, domain.Resolution{Notes: "x", Type: "nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	g, err := svc.ResolveGhostReport(ctx, testCompany, reports[0].ID,
		domain.Resolution{Notes: "  Contractor on leave ", Type: domain.ResolutionInvestigated})
	require.NoError(t, err)
	assert.True(t, g.IsResolved)
	assert.Equal(t, "Contractor on leave", g.ResolutionNotes)

	// The detection the report was built from closes with it.
	det, err := repo.GetDetection(ctx, testCompany, g.DetectionID)
	require.NoError(t, err)
	assert.True(t, det.IsResolved)
	assert.Equal(t, domain.ResolutionInvestigated, det.ResolutionType)
	assert.Equal(t, "Contractor on leave", det.ResolutionNotes)

	_, err = svc.ResolveGhostReport(ctx, testCompany, reports[0].ID,
		domain.Resolution{Notes: "again", Type: domain.ResolutionInvestigated})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = svc.Resolve(ctx, testCompany, g.DetectionID,
		domain.Resolution{Notes: "again", Type: domain.ResolutionInvestigated})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestResolveGhostDetectionClosesReport(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	svc := New(repo, Options{})
	ctx := context.Background()

	dets, err := svc.DetectGhostEmployees(ctx, testCompany)
	require.NoError(t, err)
	require.Len(t, dets, 1)

	before, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	require.Len(t, before.Departments, 1)
	assert.Equal(t, "Operations", before.Departments[0].Department)

	_, err = svc.Resolve(ctx, testCompany, dets[0].ID,
		domain.Resolution{Notes: "Verified with HR", Type: domain.ResolutionFalsePositive})
	require.NoError(t, err)

	reports, err := svc.GhostReports(ctx, testCompany, 30)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].IsResolved)
	assert.Equal(t, domain.ResolutionFalsePositive, reports[0].ResolutionType)

	_, err = svc.ResolveGhostReport(ctx, testCompany, reports[0].ID,
		domain.Resolution{Notes: "again", Type: domain.ResolutionOther})
	assert.ErrorIs(t, err, domain.ErrConflict)

	after, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Stats.Unresolved)
	assert.Empty(t, after.Departments)
}

func TestGhostActivityFromHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.SaveEmployee(ctx, testCompany, &domain.Employee{
		ID: "emp-old", Name: "Lee Park", Department: "Finance", Salary: 70000,
		HireDate: now.AddDate(-2, 0, 0), IsActive: true,
	}))
	for i, ch := range []domain.ActivityChannel{domain.ChannelExpense, domain.ChannelTimesheet, domain.ChannelCommunication} {
		require.NoError(t, repo.SaveActivity(ctx, testCompany, &domain.Activity{
			ID: "act-" + string(ch), EmployeeID: "emp-old", Channel: ch,
			Amount: float64(i), Hours: 8, CreatedAt: now.AddDate(0, 0, -200),
		}))
	}

	svc := New(repo, Options{})
	dets, err := svc.DetectGhostEmployees(ctx, testCompany)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Contains(t, dets[0].Description, "inactive for 200 days")
	assert.NotContains(t, dets[0].Description, "on record")

	reports, err := svc.GhostReports(ctx, testCompany, 30)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	g := reports[0]
	assert.Equal(t, domain.ActivityInactive180, g.ActivityStatus)
	assert.Equal(t, 1, g.ExpenseCount)
	assert.Equal(t, 1, g.TimesheetCount)
	assert.Equal(t, 1, g.CommunicationCount)
	assert.Contains(t, g.Recommendations, "180-day inactivity - termination review")
	assert.NotContains(t, g.Recommendations, "Immediate investigation required - no activity detected")
}

func TestDashboardCache(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)

	svc := New(repo, Options{Cache: cache.NewLRUCache(100), DashboardTTL: time.Hour})
	ctx := context.Background()

	empty, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Stats.Total)

	// Written behind the engine's back: the cached dashboard does not see it.
	require.NoError(t, repo.SaveDetection(ctx, testCompany, &domain.Detection{
		ID: "manual", CompanyID: testCompany, FraudType: domain.FraudRoundNumber,
		EntityType: domain.EntityTransaction, EntityID: "tx-9", Severity: domain.SeverityLow,
		Detail: map[string]any{domain.DetailRiskScore: 10}, DetectedAt: time.Now().UTC(),
	}))
	cached, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 0, cached.Stats.Total)

	// A detector run invalidates the entry.
	dets, err := svc.DetectRoundNumberTransactions(ctx, testCompany)
	require.NoError(t, err)
	fresh, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1+len(dets), fresh.Stats.Total)

	// So does a resolution.
	_, err = svc.Resolve(ctx, testCompany, "manual", domain.Resolution{Notes: "ok", Type: domain.ResolutionCorrected})
	require.NoError(t, err)
	after, err := svc.Dashboard(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Stats.Resolved)
	assert.Len(t, after.Series, 30)
}

func TestDetectDispatch(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	svc := New(repo, Options{})
	ctx := context.Background()

	dets, err := svc.Detect(ctx, testCompany, domain.FraudSuspiciousVendor)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 100, dets[0].RiskScore())

	_, err = svc.Detect(ctx, testCompany, "payroll_padding")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.DetectSplitTransactions(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAnalyzeBenfordAndReport(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	svc := New(repo, Options{})
	ctx := context.Background()

	a, err := svc.AnalyzeBenford(ctx, testCompany, domain.DataTransactions)
	require.NoError(t, err)
	assert.Equal(t, 8, a.DegreesOfFreedom)

	rep, err := svc.BenfordReport(ctx, testCompany, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, rep.Analysis.ID)
	assert.NotEmpty(t, rep.Interpretation.RiskLevel)

	_, err = svc.AnalyzeBenford(ctx, testCompany, domain.DataPayments)
	assert.ErrorIs(t, err, domain.ErrNoData)

	_, err = svc.AnalyzeBenford(ctx, testCompany, "payroll")
	assert.ErrorIs(t, err, domain.ErrUnsupportedDataType)

	points, err := svc.BenfordTrends(ctx, testCompany, 7)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, domain.DataTransactions, points[0].DataType)

	trend, err := svc.Trends(ctx, testCompany, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, trend.Days)
}
