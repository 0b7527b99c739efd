package expression

import (
	"fmt"
	"reflect"
	"strconv"
)

// errUnresolved marks a path that didn't resolve to a value, as opposed to
// a genuine evaluation error (bad function args, malformed index). The
// interpolator treats the two differently in lenient mode.
type errUnresolved struct {
	path string
}

func (e *errUnresolved) Error() string {
	return fmt.Sprintf("unresolved variable: %s", e.path)
}

// Resolve evaluates a parsed Node against ctx.
func Resolve(node Node, ctx *Context) (any, error) {
	switch n := node.(type) {
	case *Literal:
		return n.Value, nil
	case *VarRef:
		return resolveVarRef(n, ctx)
	case *FnCall:
		return resolveFnCall(n, ctx)
	default:
		return nil, fmt.Errorf("unknown expression node %T", node)
	}
}

func resolveVarRef(ref *VarRef, ctx *Context) (any, error) {
	if len(ref.Steps) == 0 {
		return nil, fmt.Errorf("empty path")
	}

	root := ref.Steps[0].Field
	rest := ref.Steps[1:]

	switch root {
	case "variables":
		return walkFromMapAny(ctx.Variables, rest, "variables")
	case "steps":
		if len(rest) == 0 {
			return nil, &errUnresolved{path: "steps"}
		}
		stepID := rest[0].Field
		out, ok := ctx.StepOutputs[stepID]
		if !ok {
			return nil, &errUnresolved{path: "steps." + stepID}
		}
		return walkValue(out, rest[1:], "steps."+stepID)
	case "env":
		if len(rest) == 0 {
			return nil, &errUnresolved{path: "env"}
		}
		val, ok := ctx.Env[rest[0].Field]
		if !ok {
			return nil, &errUnresolved{path: "env." + rest[0].Field}
		}
		return val, nil
	case "workflow":
		if len(rest) == 0 {
			return nil, &errUnresolved{path: "workflow"}
		}
		return resolveWorkflowField(ctx, rest[0].Field)
	default:
		// Bare identifier shorthand for variables.<id>.
		val, ok := ctx.Variables[root]
		if !ok {
			return nil, &errUnresolved{path: root}
		}
		return walkValue(val, rest, root)
	}
}

func resolveWorkflowField(ctx *Context, field string) (any, error) {
	switch field {
	case "id":
		return ctx.Workflow.ID, nil
	case "currentStepId":
		return ctx.Workflow.CurrentStepID, nil
	case "startTime":
		return ctx.Workflow.StartTime, nil
	case "executionTime":
		return ctx.Workflow.ExecutionTime.Milliseconds(), nil
	default:
		return nil, &errUnresolved{path: "workflow." + field}
	}
}

func walkFromMapAny(m map[string]any, steps []PathStep, label string) (any, error) {
	if len(steps) == 0 {
		return map[string]any(m), nil
	}
	val, ok := m[steps[0].Field]
	if !ok {
		return nil, &errUnresolved{path: label + "." + steps[0].Field}
	}
	return walkValue(val, steps[1:], label+"."+steps[0].Field)
}

// walkValue descends into an arbitrary value (map, slice, struct-free JSON
// shape) following the remaining path steps.
func walkValue(cur any, steps []PathStep, label string) (any, error) {
	for _, step := range steps {
		if step.IndexExpr != nil {
			idx, err := evalIndex(step.IndexExpr, label)
			if err != nil {
				return nil, err
			}
			next, ok := indexInto(cur, idx)
			if !ok {
				return nil, &errUnresolved{path: fmt.Sprintf("%s[%d]", label, idx)}
			}
			cur = next
			label = fmt.Sprintf("%s[%d]", label, idx)
			continue
		}

		next, ok := fieldInto(cur, step.Field)
		if !ok {
			return nil, &errUnresolved{path: label + "." + step.Field}
		}
		cur = next
		label = label + "." + step.Field
	}
	return cur, nil
}

func evalIndex(node Node, label string) (int, error) {
	switch n := node.(type) {
	case *Literal:
		switch v := n.Value.(type) {
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			i, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid index %q at %s", v, label)
			}
			return i, nil
		}
	}
	return 0, fmt.Errorf("unsupported index expression at %s", label)
}

func indexInto(cur any, idx int) (any, bool) {
	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	default:
		return nil, false
	}
}

func fieldInto(cur any, field string) (any, bool) {
	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[field]
		return v, ok
	case map[string]string:
		v, ok := m[field]
		return v, ok
	default:
		return nil, false
	}
}

func resolveFnCall(call *FnCall, ctx *Context) (any, error) {
	fn, ok := builtins[call.Name]
	if !ok {
		return nil, fmt.Errorf("Function %s failed: unknown function", call.Name)
	}

	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		v, err := Resolve(a, ctx)
		if err != nil {
			if _, isUnresolved := err.(*errUnresolved); isUnresolved {
				args[i] = nil
				continue
			}
			return nil, err
		}
		args[i] = v
	}

	result, err := fn(args)
	if err != nil {
		return nil, fmt.Errorf("Function %s failed: %w", call.Name, err)
	}
	return result, nil
}
