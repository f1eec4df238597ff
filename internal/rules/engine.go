// Package rules provides the CEL-Go based risk scoring tables.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Variable declares one typed input of a rule table.
type Variable struct {
	Name string
	Type *cel.Type
}

// RuleSet is a compiled, declarative scoring table for one detector.
// Rules are evaluated in declaration order and matched points are summed.
type RuleSet struct {
	mu    sync.RWMutex
	name  string
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.ScoreRule
	Program cel.Program
}

// NewRuleSet compiles the rules against an environment built from vars.
func NewRuleSet(name string, vars []Variable, rules []domain.ScoreRule) (*RuleSet, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v.Name, v.Type))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment for %s: %w", name, err)
	}

	s := &RuleSet{name: name, env: env}
	if err := s.Reload(rules); err != nil {
		return nil, err
	}
	return s, nil
}

// MustRuleSet is like NewRuleSet but panics on error. Used for built-in tables.
func MustRuleSet(name string, vars []Variable, rules []domain.ScoreRule) *RuleSet {
	s, err := NewRuleSet(name, vars, rules)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the table name.
func (s *RuleSet) Name() string {
	return s.name
}

// ValidateRule compiles a rule without mutating the loaded table.
func (s *RuleSet) ValidateRule(rule domain.ScoreRule) error {
	_, err := s.compileRule(rule)
	return err
}

// Reload replaces the table. Either every rule compiles or nothing changes.
func (s *RuleSet) Reload(rules []domain.ScoreRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return fmt.Errorf("rule set %s: duplicate rule id %s", s.name, r.ID)
		}
		seen[r.ID] = true

		c, err := s.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	s.mu.Lock()
	s.rules = compiled
	s.mu.Unlock()
	return nil
}

// Rules returns the loaded rule definitions in evaluation order.
func (s *RuleSet) Rules() []domain.ScoreRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScoreRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Config
	}
	return out
}

// RulesCount returns the number of loaded rules.
func (s *RuleSet) RulesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Score evaluates every rule against the activation. It returns the clamped
// sum of matched points and the ids of the rules that matched.
func (s *RuleSet) Score(activation map[string]any) (int, []string, error) {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	total := 0
	matched := make([]string, 0, len(rules))
	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			return 0, nil, fmt.Errorf("rule %s/%s: evaluation error: %w", s.name, r.Config.ID, err)
		}
		if isTrue(out) {
			total += r.Config.Points
			matched = append(matched, r.Config.ID)
		}
	}

	return Clamp(total), matched, nil
}

// Clamp bounds a composite score to [0, MaxRiskScore].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > domain.MaxRiskScore {
		return domain.MaxRiskScore
	}
	return score
}

func isTrue(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

func (s *RuleSet) compileRule(rule domain.ScoreRule) (*CompiledRule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("rule set %s: rule id is required", s.name)
	}

	ast, issues := s.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Config:  rule,
		Program: program,
	}, nil
}
