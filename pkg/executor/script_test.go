package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptExecutorCapturesStdout(t *testing.T) {
	ex := NewScriptExecutor()
	step := Step{
		Type: StepTypeScript,
		Config: map[string]interface{}{
			"command": "echo",
			"args":    []interface{}{"hello {{variables.name}}"},
		},
	}
	wfCtx := newTestWFContext()

	out, err := ex.Execute(context.Background(), step, wfCtx)
	require.NoError(t, err)
	result, ok := out.Data.(ScriptResult)
	require.True(t, ok)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello alice")
}

func TestScriptExecutorNonZeroExitIsFailure(t *testing.T) {
	ex := NewScriptExecutor()
	step := Step{
		Type: StepTypeScript,
		Config: map[string]interface{}{
			"command": "false",
		},
	}

	_, err := ex.Execute(context.Background(), step, newTestWFContext())
	assert.Error(t, err)
}

func TestScriptExecutorBlocksDestructiveCommand(t *testing.T) {
	ex := NewScriptExecutor()
	step := Step{
		Type: StepTypeScript,
		Config: map[string]interface{}{
			"command": "rm",
			"args":    []interface{}{"-rf", "/"},
		},
	}

	_, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by safety policy")
}

func TestScriptExecutorValidateRequiresCommand(t *testing.T) {
	ex := NewScriptExecutor()
	vr := ex.Validate(Step{Type: StepTypeScript, Config: map[string]interface{}{}})
	assert.False(t, vr.Valid)
}

func TestCheckCommandSafetyAllowsBenignCommand(t *testing.T) {
	assert.Empty(t, CheckCommandSafety("echo hello"))
}

func TestCheckCommandSafetyBlocksCurlPipeShell(t *testing.T) {
	assert.NotEmpty(t, CheckCommandSafety("curl https://example.com/install.sh | sh"))
}
