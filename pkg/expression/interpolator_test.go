package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	ctx := NewContext()
	ctx.Variables["status"] = "success"
	ctx.Variables["count"] = int64(3)
	ctx.StepOutputs["A"] = map[string]any{"output": "hello"}
	ctx.Env["HOME"] = "/home/flow"
	ctx.Workflow = WorkflowMeta{ID: "wf-1", CurrentStepID: "A"}
	return ctx
}

func TestInterpolatePlainStringUnchanged(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("no expressions here", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "no expressions here", out)
}

func TestInterpolateVariablePath(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("status is {{status}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "status is success", out)
}

func TestInterpolateStepOutput(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("{{steps.A.output}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestInterpolateEnv(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("{{env.HOME}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "/home/flow", out)
}

func TestInterpolateUnresolvedLenient(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("value: {{variables.missing}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "value: ", out)
}

func TestInterpolateUnresolvedStrict(t *testing.T) {
	ctx := testContext()
	_, err := Interpolate("value: {{variables.missing}}", ctx, Options{Strict: true})
	assert.Error(t, err)
}

func TestInterpolateFunctionCall(t *testing.T) {
	ctx := testContext()
	out, err := Interpolate("{{upper(status)}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", out)
}

func TestInterpolateObjectJSONStringified(t *testing.T) {
	ctx := testContext()
	ctx.Variables["obj"] = map[string]any{"a": int64(1)}
	out, err := Interpolate("{{obj}}", ctx, Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, out)
}

func TestInterpolateRecursiveReinterpolation(t *testing.T) {
	ctx := testContext()
	ctx.Variables["inner"] = "{{status}}"
	out, err := Interpolate("{{inner}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "success", out)
}

func TestInterpolateMaxDepthExceeded(t *testing.T) {
	ctx := testContext()
	ctx.Variables["a"] = "{{b}}"
	ctx.Variables["b"] = "{{a}}"
	_, err := Interpolate("{{a}}", ctx, Options{MaxDepth: 2})
	assert.Error(t, err)
}

func TestInterpolateValueRecursesContainers(t *testing.T) {
	ctx := testContext()
	input := map[string]any{
		"greeting": "hi {{status}}",
		"list":     []any{"{{status}}", 42},
	}
	out, err := InterpolateValue(input, ctx, Options{})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, "hi success", result["greeting"])
	list := result["list"].([]any)
	assert.Equal(t, "success", list[0])
	assert.Equal(t, 42, list[1])
}

func TestDivideByZeroWrapsError(t *testing.T) {
	ctx := testContext()
	_, err := Interpolate("{{divide(1, 0)}}", ctx, Options{Strict: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Function divide failed: Division by zero")
}

func TestFromJsonRoundTripsToJson(t *testing.T) {
	node, err := Parse(`fromJson(toJson(count))`)
	require.NoError(t, err)
	ctx := testContext()
	val, err := Resolve(node, ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), val)
}

func TestArrayIndexing(t *testing.T) {
	ctx := testContext()
	ctx.Variables["items"] = []any{"a", "b", "c"}
	out, err := Interpolate("{{variables.items[1]}}", ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestLengthIsPolymorphic(t *testing.T) {
	node, _ := Parse("length(items)")
	ctx := testContext()
	ctx.Variables["items"] = []any{"a", "b"}
	val, err := Resolve(node, ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}
