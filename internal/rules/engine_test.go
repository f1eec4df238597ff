package rules

import (
	"reflect"
	"sync"
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var testVars = []Variable{
	{Name: "amount", Type: cel.DoubleType},
	{Name: "count", Type: cel.IntType},
}

func TestRuleSetCreation(t *testing.T) {
	set, err := NewRuleSet("empty", testVars, nil)
	if err != nil {
		t.Fatalf("failed to create rule set: %v", err)
	}

	if set.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", set.RulesCount())
	}
	if set.Name() != "empty" {
		t.Errorf("expected name empty, got %s", set.Name())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	tests := []struct {
		name string
		rule domain.ScoreRule
	}{
		{"syntax error", domain.ScoreRule{ID: "bad", Expression: "this is not valid CEL !!!", Points: 1}},
		{"non-bool output", domain.ScoreRule{ID: "double", Expression: "amount * 2.0", Points: 1}},
		{"unknown variable", domain.ScoreRule{ID: "unknown", Expression: "vendor == 'x'", Points: 1}},
		{"missing id", domain.ScoreRule{Expression: "count > 1", Points: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet("invalid", testVars, []domain.ScoreRule{tt.rule})
			if err == nil {
				t.Error("expected error for invalid rule")
			}
		})
	}
}

func TestDuplicateRuleID(t *testing.T) {
	_, err := NewRuleSet("dup", testVars, []domain.ScoreRule{
		{ID: "a", Expression: "count > 1", Points: 10},
		{ID: "a", Expression: "count > 2", Points: 10},
	})
	if err == nil {
		t.Error("expected error for duplicate rule id")
	}
}

func TestScoreSumsMatchedRules(t *testing.T) {
	set := MustRuleSet("sum", testVars, []domain.ScoreRule{
		{ID: "high-amount", Expression: "amount >= 10000.0", Points: 40},
		{ID: "mid-amount", Expression: "amount >= 5000.0 && amount < 10000.0", Points: 20},
		{ID: "many", Expression: "count >= 3", Points: 30},
		{ID: "flat", Expression: "true", Points: 10},
	})

	tests := []struct {
		name        string
		amount      float64
		count       int64
		wantScore   int
		wantMatched []string
	}{
		{"high amount, few", 12000, 1, 50, []string{"high-amount", "flat"}},
		{"mid amount, many", 6000, 4, 60, []string{"mid-amount", "many", "flat"}},
		{"low amount, few", 100, 1, 10, []string{"flat"}},
		{"all high", 20000, 9, 80, []string{"high-amount", "many", "flat"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, matched, err := set.Score(map[string]any{"amount": tt.amount, "count": tt.count})
			if err != nil {
				t.Fatalf("score failed: %v", err)
			}
			if score != tt.wantScore {
				t.Errorf("expected score %d, got %d", tt.wantScore, score)
			}
			if !reflect.DeepEqual(matched, tt.wantMatched) {
				t.Errorf("expected matched %v, got %v", tt.wantMatched, matched)
			}
		})
	}
}

func TestScoreIsClamped(t *testing.T) {
	set := MustRuleSet("clamp", testVars, []domain.ScoreRule{
		{ID: "a", Expression: "true", Points: 60},
		{ID: "b", Expression: "true", Points: 60},
		{ID: "c", Expression: "count < 0", Points: -500},
	})

	score, _, err := set.Score(map[string]any{"amount": 1.0, "count": int64(1)})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score != domain.MaxRiskScore {
		t.Errorf("expected clamp to %d, got %d", domain.MaxRiskScore, score)
	}

	score, _, err = set.Score(map[string]any{"amount": 1.0, "count": int64(-1)})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if score != 0 {
		t.Errorf("expected clamp to 0, got %d", score)
	}
}

func TestScoreMissingVariable(t *testing.T) {
	set := MustRuleSet("missing", testVars, []domain.ScoreRule{
		{ID: "a", Expression: "count > 1", Points: 10},
	})

	if _, _, err := set.Score(map[string]any{"amount": 1.0}); err == nil {
		t.Error("expected evaluation error for missing variable")
	}
}

func TestReloadIsAtomic(t *testing.T) {
	set := MustRuleSet("reload", testVars, []domain.ScoreRule{
		{ID: "a", Expression: "count > 1", Points: 10},
	})

	err := set.Reload([]domain.ScoreRule{
		{ID: "b", Expression: "count > 2", Points: 10},
		{ID: "broken", Expression: "count >", Points: 10},
	})
	if err == nil {
		t.Fatal("expected reload error")
	}

	rules := set.Rules()
	if len(rules) != 1 || rules[0].ID != "a" {
		t.Errorf("expected original table to survive failed reload, got %+v", rules)
	}
}

func TestConcurrentScore(t *testing.T) {
	set := MustRuleSet("concurrent", testVars, []domain.ScoreRule{
		{ID: "a", Expression: "amount > 100.0", Points: 50},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := set.Score(map[string]any{"amount": 500.0, "count": int64(1)}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent score failed: %v", err)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
