package milestones

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/reputation"
)

// Snapshot is the state a rule set is evaluated against. Counts holds only the
// metrics that were fetched successfully; Failed names those that were not.
type Snapshot struct {
	Counts map[string]int64
	Failed map[string]error
	Points int64
	Rank   models.Rank
	Streak int
}

// value resolves a metric from the snapshot.
func (s Snapshot) value(metric string) (int64, bool) {
	switch metric {
	case models.MetricPoints:
		return s.Points, true
	case models.MetricStreakDays:
		return int64(s.Streak), true
	}
	if _, failed := s.Failed[metric]; failed {
		return 0, false
	}
	v, ok := s.Counts[metric]
	return v, ok
}

type compiledRule struct {
	rule    models.MilestoneRule
	program cel.Program
	// metrics the rule reads from the snapshot
	metrics []string
}

// RuleSet is an immutable, validated set of milestone rules.
type RuleSet struct {
	rules []compiledRule
	byID  map[string]int
}

// IsSnapshotMetric reports whether metric comes from the reputation row
// rather than from a metric source.
func IsSnapshotMetric(metric string) bool {
	return metric == models.MetricPoints || metric == models.MetricStreakDays || metric == models.MetricRank
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("counts", cel.MapType(cel.StringType, cel.IntType)),
		cel.Variable("points", cel.IntType),
		cel.Variable("rank", cel.StringType),
		cel.Variable("rank_level", cel.IntType),
		cel.Variable("streak", cel.IntType),
	)
}

// NewRuleSet validates rules and compiles expression rules. countable lists the
// metrics a metric source can provide; nil accepts any metric name.
func NewRuleSet(rules []models.MilestoneRule, countable []string) (*RuleSet, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	var known map[string]bool
	if countable != nil {
		known = make(map[string]bool, len(countable))
		for _, m := range countable {
			known[m] = true
		}
	}
	checkMetric := func(id, metric string) error {
		if IsSnapshotMetric(metric) || known == nil || known[metric] {
			return nil
		}
		return fmt.Errorf("rule %q: unknown metric %q", id, metric)
	}

	set := &RuleSet{byID: make(map[string]int, len(rules))}
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if _, dup := set.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		if r.Kind == "" {
			r.Kind = models.MilestoneKindBadge
		}
		if r.Kind != models.MilestoneKindBadge && r.Kind != models.MilestoneKindTrophy {
			return nil, fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
		}
		if r.RewardPoints < 0 {
			return nil, fmt.Errorf("rule %q: reward_points must not be negative", r.ID)
		}

		cr := compiledRule{rule: r}
		switch {
		case r.Expression != "" && r.Metric != "":
			return nil, fmt.Errorf("rule %q: set either metric or expression, not both", r.ID)

		case r.Expression != "":
			ast, issues := env.Compile(r.Expression)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("rule %q: failed to compile expression: %w", r.ID, issues.Err())
			}
			if !ast.OutputType().IsExactType(cel.BoolType) {
				return nil, fmt.Errorf("rule %q: expression must return a boolean, got %s", r.ID, ast.OutputType())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rule %q: failed to create CEL program: %w", r.ID, err)
			}
			for _, m := range r.Requires {
				if err := checkMetric(r.ID, m); err != nil {
					return nil, err
				}
			}
			cr.program = prg
			cr.metrics = r.Requires

		case r.Metric == models.MetricRank:
			if !reputation.ValidRank(r.Rank) {
				return nil, fmt.Errorf("rule %q: unknown rank %q", r.ID, r.Rank)
			}

		case r.Metric != "":
			if r.Threshold <= 0 {
				return nil, fmt.Errorf("rule %q: threshold must be positive", r.ID)
			}
			if err := checkMetric(r.ID, r.Metric); err != nil {
				return nil, err
			}
			cr.metrics = []string{r.Metric}

		default:
			return nil, fmt.Errorf("rule %q: metric or expression is required", r.ID)
		}

		set.byID[r.ID] = len(set.rules)
		set.rules = append(set.rules, cr)
	}

	return set, nil
}

// Rules returns the rule definitions in configuration order.
func (s *RuleSet) Rules() []models.MilestoneRule {
	out := make([]models.MilestoneRule, len(s.rules))
	for i, cr := range s.rules {
		out[i] = cr.rule
	}
	return out
}

// Get returns the rule with the given ID.
func (s *RuleSet) Get(id string) (models.MilestoneRule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return models.MilestoneRule{}, false
	}
	return s.rules[i].rule, true
}

// RequiredMetrics returns the sorted metrics that must be fetched from a metric
// source to evaluate every rule not yet granted.
func (s *RuleSet) RequiredMetrics(granted map[string]bool) []string {
	seen := make(map[string]bool)
	for _, cr := range s.rules {
		if granted[cr.rule.ID] {
			continue
		}
		for _, m := range cr.metrics {
			if !IsSnapshotMetric(m) {
				seen[m] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// HasRankRules reports whether any rule depends on rank or points, which change
// when milestone rewards are applied.
func (s *RuleSet) HasRankRules() bool {
	for _, cr := range s.rules {
		if cr.rule.Metric == models.MetricRank || cr.rule.Metric == models.MetricPoints || cr.program != nil {
			return true
		}
	}
	return false
}

// Skipped describes a rule that could not be evaluated.
type Skipped struct {
	RuleID string
	Reason error
}

// Evaluate returns the rules not in granted whose condition holds for snap.
// Rules are evaluated independently against the same snapshot. Rules that
// depend on a failed or missing metric are returned in skipped.
func (s *RuleSet) Evaluate(snap Snapshot, granted map[string]bool) (eligible []models.MilestoneRule, skipped []Skipped) {
	var activation map[string]any

	for _, cr := range s.rules {
		r := cr.rule
		if granted[r.ID] {
			continue
		}

		if missing := s.missingMetric(cr, snap); missing != "" {
			reason := snap.Failed[missing]
			if reason == nil {
				reason = fmt.Errorf("metric %s not available", missing)
			}
			skipped = append(skipped, Skipped{RuleID: r.ID, Reason: reason})
			continue
		}

		var ok bool
		switch {
		case cr.program != nil:
			if activation == nil {
				activation = celActivation(snap)
			}
			out, _, err := cr.program.Eval(activation)
			if err != nil {
				skipped = append(skipped, Skipped{RuleID: r.ID, Reason: fmt.Errorf("failed to evaluate expression: %w", err)})
				continue
			}
			ok, _ = out.Value().(bool)
		case r.Metric == models.MetricRank:
			ok = reputation.RankAtLeast(snap.Rank, r.Rank)
		default:
			v, _ := snap.value(r.Metric)
			ok = v >= r.Threshold
		}

		if ok {
			eligible = append(eligible, r)
		}
	}

	return eligible, skipped
}

func (s *RuleSet) missingMetric(cr compiledRule, snap Snapshot) string {
	for _, m := range cr.metrics {
		if m == models.MetricRank {
			continue
		}
		if _, ok := snap.value(m); !ok {
			return m
		}
	}
	return ""
}

func celActivation(snap Snapshot) map[string]any {
	counts := make(map[string]int64, len(snap.Counts))
	for k, v := range snap.Counts {
		counts[k] = v
	}
	return map[string]any{
		"counts":     counts,
		"points":     snap.Points,
		"rank":       string(snap.Rank),
		"rank_level": int64(reputation.RankIndex(snap.Rank)),
		"streak":     int64(snap.Streak),
	}
}
