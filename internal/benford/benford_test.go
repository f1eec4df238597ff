package benford

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	amounts map[domain.DataType][]float64
	err     error
}

func (f *fakeSource) ListAmounts(_ context.Context, _ string, dataType domain.DataType) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.amounts[dataType], nil
}

type fakeStore struct {
	mu       sync.Mutex
	analyses map[string]*domain.BenfordAnalysis
}

func newFakeStore() *fakeStore {
	return &fakeStore{analyses: make(map[string]*domain.BenfordAnalysis)}
}

func (f *fakeStore) SaveBenfordAnalysis(_ context.Context, _ string, a *domain.BenfordAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses[a.ID] = a
	return nil
}

func (f *fakeStore) GetBenfordAnalysis(_ context.Context, companyID, id string) (*domain.BenfordAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.analyses[id]
	if !ok || a.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

// benfordSample returns n amounts whose leading digits follow Benford's Law exactly.
func benfordSample() []float64 {
	counts := []int{30103, 17609, 12494, 9691, 7918, 6695, 5799, 5115, 4576}
	out := make([]float64, 0, 100000)
	for i, c := range counts {
		d := float64(i + 1)
		for j := 0; j < c; j++ {
			out = append(out, d*1000+float64(j%997)+0.25)
		}
	}
	return out
}

func uniformSample(perDigit int) []float64 {
	out := make([]float64, 0, perDigit*9)
	for d := 1; d <= 9; d++ {
		for j := 0; j < perDigit; j++ {
			out = append(out, float64(d)*100+float64(j%100))
		}
	}
	return out
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestLeadingDigit(t *testing.T) {
	tests := []struct {
		amount float64
		want   int
	}{
		{123.45, 1},
		{-987, 9},
		{0.0045, 4},
		{1e-7, 1},
		{5e20, 5},
		{10000, 1},
		{0, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LeadingDigit(tt.amount), "amount %v", tt.amount)
	}
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "10000", Canonical(10000))
	assert.Equal(t, "5500.5", Canonical(-5500.5))
	assert.Equal(t, "0.0000001", Canonical(1e-7))
}

func TestExpectedDistributionSumsToOne(t *testing.T) {
	dist := ExpectedDistribution()
	require.Len(t, dist, 9)
	assert.InDelta(t, 1.0, sum(dist), 1e-9)
	assert.InDelta(t, 0.30103, dist[0], 1e-5)
	assert.InDelta(t, 0.04576, dist[8], 1e-5)
}

func TestEvaluateExactBenford(t *testing.T) {
	res, err := Evaluate(benfordSample())
	require.NoError(t, err)

	assert.Equal(t, 100000, res.TotalRecords)
	assert.InDelta(t, 1.0, sum(res.Actual), 1e-9)
	assert.InDelta(t, 0, res.ChiSquare, 0.01)
	assert.False(t, res.Significant)
	assert.Equal(t, 0.95, res.PValue)
	assert.Empty(t, res.Anomalies)
}

func TestEvaluateUniformIsSignificant(t *testing.T) {
	res, err := Evaluate(uniformSample(100))
	require.NoError(t, err)

	assert.Equal(t, 900, res.TotalRecords)
	assert.InDelta(t, 1.0, sum(res.Actual), 1e-9)
	assert.Greater(t, res.ChiSquare, 18.31)
	assert.True(t, res.Significant)
	assert.Equal(t, 0.001, res.PValue)

	// Digit 1 is under-represented by about 63%, digit 9 over by about 143%.
	require.NotEmpty(t, res.Anomalies)
	assert.Equal(t, 1, res.Anomalies[0].Digit)
	assert.Equal(t, domain.SeverityHigh, res.Anomalies[0].Severity)
	last := res.Anomalies[len(res.Anomalies)-1]
	assert.Equal(t, 9, last.Digit)
	assert.Equal(t, domain.SeverityHigh, last.Severity)
}

func TestEvaluateDropsNonPositive(t *testing.T) {
	res, err := Evaluate([]float64{-5, 0, 100, 200})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRecords)
	assert.InDelta(t, 0.5, res.Actual[0], 1e-9)
	assert.InDelta(t, 0.5, res.Actual[1], 1e-9)
}

func TestEvaluateNoData(t *testing.T) {
	for _, sample := range [][]float64{nil, {}, {0, -1, -2}} {
		_, err := Evaluate(sample)
		assert.ErrorIs(t, err, domain.ErrNoData)
	}
}

func TestPValueTable(t *testing.T) {
	tests := []struct {
		chi  float64
		want float64
	}{
		{0, 0.95},
		{2.73, 0.90},
		{9.0, 0.70},
		{15.51, 0.20},
		{18.30, 0.10},
		{18.31, 0.05},
		{19.68, 0.02},
		{22.35, 0.01},
		{22.36, 0.001},
		{500, 0.001},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PValue(tt.chi), "chi %v", tt.chi)
	}
	// The tabulated 0.05 row is not itself significant.
	assert.GreaterOrEqual(t, PValue(19.67), SignificanceLevel)
	assert.Less(t, PValue(19.68), SignificanceLevel)
}

func TestAnomalySeverity(t *testing.T) {
	assert.Equal(t, domain.SeverityLow, anomalySeverity(11))
	assert.Equal(t, domain.SeverityLow, anomalySeverity(25))
	assert.Equal(t, domain.SeverityMedium, anomalySeverity(26))
	assert.Equal(t, domain.SeverityMedium, anomalySeverity(50))
	assert.Equal(t, domain.SeverityHigh, anomalySeverity(50.1))
}

func TestAnalyzerPersistsNewRecordEachRun(t *testing.T) {
	source := &fakeSource{amounts: map[domain.DataType][]float64{
		domain.DataTransactions: uniformSample(20),
	}}
	store := newFakeStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	analyzer := NewAnalyzer(source, store).WithClock(func() time.Time { return fixed })

	first, err := analyzer.Analyze(context.Background(), "acme", domain.DataTransactions)
	require.NoError(t, err)
	second, err := analyzer.Analyze(context.Background(), "acme", domain.DataTransactions)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, store.analyses, 2)
	assert.Equal(t, domain.BenfordDegreesOfFreedom, first.DegreesOfFreedom)
	assert.Equal(t, ConfidenceLevel, first.ConfidenceLevel)
	assert.Equal(t, fixed, first.AnalyzedAt)
	assert.Equal(t, 180, first.TotalRecords)
}

func TestAnalyzerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported data type", func(t *testing.T) {
		a := NewAnalyzer(&fakeSource{}, newFakeStore())
		_, err := a.Analyze(ctx, "acme", domain.DataType("payroll"))
		assert.ErrorIs(t, err, domain.ErrUnsupportedDataType)
	})

	t.Run("empty sample", func(t *testing.T) {
		store := newFakeStore()
		a := NewAnalyzer(&fakeSource{}, store)
		_, err := a.Analyze(ctx, "acme", domain.DataExpenses)
		assert.ErrorIs(t, err, domain.ErrNoData)
		assert.Empty(t, store.analyses)
	})

	t.Run("upstream failure keeps cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		a := NewAnalyzer(&fakeSource{err: cause}, newFakeStore())
		_, err := a.Analyze(ctx, "acme", domain.DataInvoices)
		assert.ErrorIs(t, err, domain.ErrUpstream)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, domain.KindUpstream, domain.ErrorKind(err))
	})

	t.Run("missing company", func(t *testing.T) {
		a := NewAnalyzer(&fakeSource{}, newFakeStore())
		_, err := a.Analyze(ctx, "", domain.DataInvoices)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestReport(t *testing.T) {
	store := newFakeStore()
	a := NewAnalyzer(&fakeSource{amounts: map[domain.DataType][]float64{
		domain.DataPayments: uniformSample(100),
	}}, store)

	analysis, err := a.Analyze(context.Background(), "acme", domain.DataPayments)
	require.NoError(t, err)

	report, err := a.Report(context.Background(), "acme", analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis.ID, report.Analysis.ID)
	assert.Equal(t, "critical", report.Interpretation.RiskLevel)
	assert.Contains(t, report.Interpretation.Recommendations, "Immediate investigation required")

	_, err = a.Report(context.Background(), "other-co", analysis.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInterpret(t *testing.T) {
	low := Interpret(&domain.BenfordAnalysis{IsSignificant: false, PValue: 0.5})
	assert.Equal(t, "low", low.RiskLevel)
	assert.Len(t, low.Recommendations, 2)

	high := Interpret(&domain.BenfordAnalysis{IsSignificant: true, PValue: 0.02})
	assert.Equal(t, "high", high.RiskLevel)
	assert.Len(t, high.Recommendations, 3)
}
