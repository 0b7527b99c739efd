package expression

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches a single {{ ... }} expression. Grounded on the
// teacher's own template regex in pkg/workflow/expression/template.go,
// generalized here to feed the full path/call grammar instead of a
// dotted-path-only resolver.
var templatePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

const defaultMaxDepth = 10

// Options controls a single Interpolate/InterpolateValue call.
type Options struct {
	// Strict, when true, turns an unresolved variable or expression error
	// into a returned error instead of substituting an empty string (or,
	// for InterpolateValue, leaving the source value untouched).
	Strict bool

	// MaxDepth caps recursive re-interpolation of substituted strings that
	// themselves contain {{...}}. Zero uses defaultMaxDepth.
	MaxDepth int
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return o.MaxDepth
}

// Interpolate resolves every {{ ... }} expression in s against ctx. A
// string with no {{...}} is returned unchanged. In lenient mode (the
// default), parse/resolution errors leave the original {{...}} text in
// place and are returned joined as a single error for the caller to log;
// a nil error means every expression resolved cleanly.
func Interpolate(s string, ctx *Context, opts Options) (string, error) {
	return interpolateDepth(s, ctx, opts, 0)
}

func interpolateDepth(s string, ctx *Context, opts Options, depth int) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	if depth >= opts.maxDepth() {
		return s, fmt.Errorf("maxDepth (%d) exceeded while interpolating %q", opts.maxDepth(), s)
	}

	var errs []string
	replaced := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := strings.TrimSpace(match[2 : len(match)-2])

		node, err := Parse(inner)
		if err != nil {
			errs = append(errs, err.Error())
			if opts.Strict {
				return match
			}
			return match
		}

		val, err := Resolve(node, ctx)
		if err != nil {
			if _, unresolved := err.(*errUnresolved); unresolved {
				if opts.Strict {
					errs = append(errs, err.Error())
					return match
				}
				return ""
			}
			errs = append(errs, err.Error())
			return match
		}

		return stringifyValue(val)
	})

	if opts.Strict && len(errs) > 0 {
		return s, fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	if replaced != s && strings.Contains(replaced, "{{") {
		next, err := interpolateDepth(replaced, ctx, opts, depth+1)
		if err != nil {
			if len(errs) > 0 {
				return next, fmt.Errorf("%s; %s", strings.Join(errs, "; "), err.Error())
			}
			return next, err
		}
		replaced = next
	}

	if len(errs) > 0 {
		return replaced, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return replaced, nil
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any, map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// InterpolateValue recurses through arrays and maps, interpolating every
// string leaf; non-string leaves pass through untouched.
func InterpolateValue(v any, ctx *Context, opts Options) (any, error) {
	switch t := v.(type) {
	case string:
		return Interpolate(t, ctx, opts)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			resolved, err := InterpolateValue(item, ctx, opts)
			if err != nil {
				return v, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			resolved, err := InterpolateValue(item, ctx, opts)
			if err != nil {
				return v, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
