package executor

import (
	"context"
	"testing"

	"github.com/flowengine/flowengine/pkg/wfcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWFContext() *wfcontext.Context {
	ctx := wfcontext.New("wf-1", map[string]string{})
	ctx.SetVariable("count", float64(5))
	ctx.SetVariable("name", "alice")
	return ctx
}

func TestConditionEqualsCoercesStringToNumber(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		ID:   "c1",
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":  "equals",
				"left":  "{{variables.count}}",
				"right": float64(5),
			},
			"onTrue":  []interface{}{"next"},
			"onFalse": []interface{}{"skip"},
		},
	}

	out, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.NoError(t, err)
	require.NotNil(t, out.ConditionResult)
	assert.True(t, *out.ConditionResult)
	assert.Equal(t, []string{"next"}, out.TriggeredSteps)
}

func TestConditionGreaterThanRequiresNumeric(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":  "greater_than",
				"left":  "{{variables.name}}",
				"right": float64(1),
			},
		},
	}

	_, err := ex.Execute(context.Background(), step, newTestWFContext())
	assert.Error(t, err)
}

func TestConditionAndShortCircuits(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type": "and",
				"conditions": []interface{}{
					map[string]interface{}{"type": "equals", "left": float64(1), "right": float64(2)},
					map[string]interface{}{"type": "greater_than", "left": "not-a-number", "right": float64(1)},
				},
			},
			"onFalse": []interface{}{"fallback"},
		},
	}

	out, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.NoError(t, err)
	assert.False(t, *out.ConditionResult)
	assert.Equal(t, []string{"fallback"}, out.TriggeredSteps)
}

func TestConditionContinueOnErrorRecordsEvaluationError(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":  "greater_than",
				"left":  "nope",
				"right": float64(1),
			},
			"continueOnError": true,
			"onFalse":         []interface{}{"fallback"},
		},
	}

	out, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.NoError(t, err)
	assert.False(t, *out.ConditionResult)
	assert.NotEmpty(t, out.EvaluationError)
}

func TestConditionFailsWithoutContinueOnError(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":  "greater_than",
				"left":  "nope",
				"right": float64(1),
			},
		},
	}

	_, err := ex.Execute(context.Background(), step, newTestWFContext())
	assert.Error(t, err)
}

func TestConditionObserveOnlyWhenNoTriggeredSteps(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":  "equals",
				"left":  float64(1),
				"right": float64(1),
			},
		},
	}

	out, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.NoError(t, err)
	assert.True(t, *out.ConditionResult)
	assert.Empty(t, out.TriggeredSteps)
}

func TestConditionNotRequiresExactlyOneNested(t *testing.T) {
	ex := NewConditionExecutor()
	step := Step{
		Type: StepTypeCondition,
		Config: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":       "not",
				"conditions": []interface{}{},
			},
		},
	}

	vr := ex.Validate(step)
	assert.False(t, vr.Valid)
}
