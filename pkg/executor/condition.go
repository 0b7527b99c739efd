package executor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowengine/flowengine/pkg/expression"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// BoolExpr is the recursive tagged union from ConditionConfig:
// either a leaf comparison (equals/not_equals/greater_than/less_than)
// or a boolean combinator (and/or/not) over nested expressions.
type BoolExpr struct {
	Type       string
	Left       interface{}
	Right      interface{}
	Conditions []BoolExpr
}

// ConditionConfig is the decoded form of a condition step's config map.
type ConditionConfig struct {
	Expression      BoolExpr
	OnTrue          []string
	OnFalse         []string
	ContinueOnError bool
}

// ConditionExecutor evaluates a BoolExpr against interpolated operands,
// kept deliberately separate from expression.ConditionEvaluator (the
// expr-lang-backed evaluator for the simpler step.condition string
// gate) per the Open Question decision recorded in DESIGN.md.
type ConditionExecutor struct{}

// NewConditionExecutor creates a condition step executor.
func NewConditionExecutor() *ConditionExecutor { return &ConditionExecutor{} }

func (c *ConditionExecutor) CanExecute(step Step) bool { return step.Type == StepTypeCondition }

func (c *ConditionExecutor) Validate(step Step) ValidationResult {
	var errs []string
	if step.Type != StepTypeCondition {
		errs = append(errs, fmt.Sprintf("expected condition step, got %q", step.Type))
	}
	if _, err := decodeConditionConfig(step.Config); err != nil {
		errs = append(errs, err.Error())
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func (c *ConditionExecutor) Execute(ctx context.Context, step Step, wfCtx *wfcontext.Context) (Output, error) {
	cfg, err := decodeConditionConfig(step.Config)
	if err != nil {
		return Output{}, err
	}

	evalCtx := buildExpressionContext(wfCtx)
	result, evalErr := evalBoolExpr(cfg.Expression, evalCtx)
	if evalErr != nil {
		if cfg.ContinueOnError {
			f := false
			return Output{
				ConditionResult: &f,
				TriggeredSteps:  cfg.OnFalse,
				EvaluationError: evalErr.Error(),
			}, nil
		}
		return Output{}, fmt.Errorf("condition evaluation failed: %w", evalErr)
	}

	triggered := cfg.OnFalse
	if result {
		triggered = cfg.OnTrue
	}
	if triggered == nil {
		triggered = []string{}
	}
	r := result
	return Output{ConditionResult: &r, TriggeredSteps: triggered}, nil
}

func decodeConditionConfig(config map[string]interface{}) (ConditionConfig, error) {
	exprRaw, ok := config["expression"]
	if !ok {
		return ConditionConfig{}, fmt.Errorf("condition step requires an expression")
	}
	exprMap, ok := exprRaw.(map[string]interface{})
	if !ok {
		return ConditionConfig{}, fmt.Errorf("condition expression must be an object")
	}
	expr, err := decodeBoolExpr(exprMap)
	if err != nil {
		return ConditionConfig{}, err
	}

	cfg := ConditionConfig{Expression: expr}
	cfg.OnTrue = stringSlice(config["onTrue"])
	cfg.OnFalse = stringSlice(config["onFalse"])
	if v, ok := config["continueOnError"].(bool); ok {
		cfg.ContinueOnError = v
	}
	return cfg, nil
}

func decodeBoolExpr(m map[string]interface{}) (BoolExpr, error) {
	t, _ := m["type"].(string)
	switch t {
	case "equals", "not_equals", "greater_than", "less_than":
		return BoolExpr{Type: t, Left: m["left"], Right: m["right"]}, nil
	case "and", "or":
		rawConds, _ := m["conditions"].([]interface{})
		var conds []BoolExpr
		for _, rc := range rawConds {
			cm, ok := rc.(map[string]interface{})
			if !ok {
				return BoolExpr{}, fmt.Errorf("condition entry must be an object")
			}
			c, err := decodeBoolExpr(cm)
			if err != nil {
				return BoolExpr{}, err
			}
			conds = append(conds, c)
		}
		return BoolExpr{Type: t, Conditions: conds}, nil
	case "not":
		rawConds, _ := m["conditions"].([]interface{})
		if len(rawConds) != 1 {
			return BoolExpr{}, fmt.Errorf("not requires exactly one nested condition")
		}
		cm, ok := rawConds[0].(map[string]interface{})
		if !ok {
			return BoolExpr{}, fmt.Errorf("condition entry must be an object")
		}
		c, err := decodeBoolExpr(cm)
		if err != nil {
			return BoolExpr{}, err
		}
		return BoolExpr{Type: t, Conditions: []BoolExpr{c}}, nil
	default:
		return BoolExpr{}, fmt.Errorf("unknown condition type %q", t)
	}
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// evalBoolExpr walks a BoolExpr, interpolating any string operand
// against ctx before comparing, per condition executor
// semantics.
func evalBoolExpr(expr BoolExpr, ctx *expression.Context) (bool, error) {
	switch expr.Type {
	case "equals", "not_equals":
		left, right, err := resolveOperands(expr.Left, expr.Right, ctx)
		if err != nil {
			return false, err
		}
		eq := compareEqual(left, right)
		if expr.Type == "not_equals" {
			return !eq, nil
		}
		return eq, nil
	case "greater_than", "less_than":
		left, right, err := resolveOperands(expr.Left, expr.Right, ctx)
		if err != nil {
			return false, err
		}
		lf, lok := toFloatOperand(left)
		rf, rok := toFloatOperand(right)
		if !lok || !rok {
			return false, fmt.Errorf("%s requires numeric operands, got %v and %v", expr.Type, left, right)
		}
		if expr.Type == "greater_than" {
			return lf > rf, nil
		}
		return lf < rf, nil
	case "and":
		for _, c := range expr.Conditions {
			result, err := evalBoolExpr(c, ctx)
			if err != nil {
				return false, err
			}
			if !result {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, c := range expr.Conditions {
			result, err := evalBoolExpr(c, ctx)
			if err != nil {
				return false, err
			}
			if result {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(expr.Conditions) != 1 {
			return false, fmt.Errorf("not requires exactly one nested condition")
		}
		result, err := evalBoolExpr(expr.Conditions[0], ctx)
		if err != nil {
			return false, err
		}
		return !result, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", expr.Type)
	}
}

func resolveOperands(left, right interface{}, ctx *expression.Context) (interface{}, interface{}, error) {
	l, err := resolveOperand(left, ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := resolveOperand(right, ctx)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func resolveOperand(v interface{}, ctx *expression.Context) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	interpolated, err := expression.InterpolateValue(s, ctx, expression.Options{Strict: false})
	if err != nil {
		return nil, err
	}
	return interpolated, nil
}

// compareEqual coerces a string operand to a number before comparing
// against a numeric operand, per comparison ordering.
func compareEqual(left, right interface{}) bool {
	if lf, lok := toFloatOperand(left); lok {
		if rf, rok := toFloatOperand(right); rok {
			return lf == rf
		}
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func toFloatOperand(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
