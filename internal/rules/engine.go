// Package rules provides the deterministic rule engine: fixed built-in
// detections plus optional CEL expressions from the policy.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// Engine evaluates the built-in rules and the policy's custom CEL rules
// against scored events. Custom rules are compiled once at construction;
// the engine is read-only afterwards and safe for concurrent use.
type Engine struct {
	policy     *domain.Policy
	custom     []compiledCustom
	maxWorkers int
}

type compiledCustom struct {
	code    string
	program cel.Program
}

// NewEngine compiles the policy's custom rules and returns an engine.
// A compile failure in any expression is fatal, surfaced as a
// MalformedPolicyError before any event is scored.
func NewEngine(policy *domain.Policy, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("country", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("is_privileged", cel.IntType),
		cel.Variable("mfa_success", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("off_hours", cel.IntType),
		cel.Variable("geo_km_from_prev", cel.DoubleType),
		cel.Variable("amount_roll_mean", cel.DoubleType),
		cel.Variable("amount_roll_std", cel.DoubleType),
		cel.Variable("login_cnt_window", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	e := &Engine{policy: policy, maxWorkers: maxWorkers}
	for _, cr := range policy.CustomRules {
		program, err := compileCustom(env, cr)
		if err != nil {
			return nil, &domain.MalformedPolicyError{
				Reason: fmt.Sprintf("custom rule %s", cr.Code),
				Err:    err,
			}
		}
		e.custom = append(e.custom, compiledCustom{code: cr.Code, program: program})
	}
	return e, nil
}

func compileCustom(env *cel.Env, cr domain.CustomRule) (cel.Program, error) {
	ast, issues := env.Compile(cr.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

// EvaluateOne returns the reason codes for one event: built-ins first in
// their fixed order, then custom rules in policy declaration order. A
// custom rule that errors at eval time is counted as not firing.
func (e *Engine) EvaluateOne(event *domain.Event, features *domain.FeatureVector) []string {
	var reasons []string
	for _, r := range builtins {
		if r.hit(e.policy, event, features) {
			reasons = append(reasons, r.code)
		}
	}

	if len(e.custom) == 0 {
		return reasons
	}
	activation := map[string]any{
		"event_type":       string(event.EventType),
		"amount":           event.Amount,
		"country":          event.Country,
		"channel":          string(event.Channel),
		"role":             event.Role,
		"user_id":          event.UserID,
		"is_privileged":    int64(event.IsPrivileged),
		"mfa_success":      int64(event.MFASuccess),
		"hour":             int64(features.Hour),
		"off_hours":        int64(features.OffHours),
		"geo_km_from_prev": features.GeoKmFromPrev,
		"amount_roll_mean": features.AmountRollMean,
		"amount_roll_std":  features.AmountRollStd,
		"login_cnt_window": int64(features.LoginCntWindow),
	}
	for _, cr := range e.custom {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			continue
		}
		if toBool(out) {
			reasons = append(reasons, cr.code)
		}
	}
	return reasons
}

// EvaluateAll maps EvaluateOne over a batch on a bounded worker pool.
// events and features must be aligned index-for-index.
func (e *Engine) EvaluateAll(ctx context.Context, events []*domain.Event, features []domain.FeatureVector) ([][]string, error) {
	if len(events) != len(features) {
		return nil, fmt.Errorf("evaluate: %d events but %d feature rows", len(events), len(features))
	}

	reasons := make([][]string, len(events))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range events {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			reasons[idx] = e.EvaluateOne(events[idx], &features[idx])
		}(i)
	}
	wg.Wait()

	return reasons, nil
}

// CustomRulesCount reports how many custom rules compiled into the engine.
func (e *Engine) CustomRulesCount() int { return len(e.custom) }

func toBool(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}
