package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowengine/flowengine/pkg/wfcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	canExec bool
	valid   ValidationResult
	out     Output
	err     error
}

func (f *fakeExecutor) CanExecute(step Step) bool        { return f.canExec }
func (f *fakeExecutor) Validate(step Step) ValidationResult { return f.valid }
func (f *fakeExecutor) Execute(ctx context.Context, step Step, wfCtx *wfcontext.Context) (Output, error) {
	return f.out, f.err
}

func TestExecuteWithHooksCallsBeforeAndAfterOnSuccess(t *testing.T) {
	var before, after bool
	fe := &fakeExecutor{canExec: true, valid: ValidationResult{Valid: true}, out: Output{Data: "ok"}}

	_, err := ExecuteWithHooks(context.Background(), fe, Step{ID: "s1"}, newTestWFContext(), Hooks{
		BeforeExecute: func(step Step) { before = true },
		AfterExecute:  func(step Step, output Output, d time.Duration) { after = true },
	})

	require.NoError(t, err)
	assert.True(t, before)
	assert.True(t, after)
}

func TestExecuteWithHooksCallsOnErrorOnFailure(t *testing.T) {
	var onErr bool
	fe := &fakeExecutor{canExec: true, valid: ValidationResult{Valid: true}, err: errors.New("boom")}

	_, err := ExecuteWithHooks(context.Background(), fe, Step{ID: "s1"}, newTestWFContext(), Hooks{
		OnError: func(step Step, err error) { onErr = true },
	})

	assert.Error(t, err)
	assert.True(t, onErr)
}

func TestExecuteWithHooksRejectsUnsupportedStepType(t *testing.T) {
	fe := &fakeExecutor{canExec: false}
	_, err := ExecuteWithHooks(context.Background(), fe, Step{ID: "s1"}, newTestWFContext(), Hooks{})
	assert.Error(t, err)
}

func TestExecuteWithHooksRejectsInvalidStep(t *testing.T) {
	var onErr bool
	fe := &fakeExecutor{canExec: true, valid: ValidationResult{Valid: false, Errors: []string{"bad"}}}
	_, err := ExecuteWithHooks(context.Background(), fe, Step{ID: "s1"}, newTestWFContext(), Hooks{
		OnError: func(step Step, err error) { onErr = true },
	})
	assert.Error(t, err)
	assert.True(t, onErr)
}

func TestRegistryGetUnknownTypeErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(StepTypeScript)
	assert.Error(t, err)
}

func TestRegistryGetReturnsRegisteredExecutor(t *testing.T) {
	reg := NewRegistry()
	fe := &fakeExecutor{canExec: true}
	reg.Register(StepTypeScript, fe)

	got, err := reg.Get(StepTypeScript)
	require.NoError(t, err)
	assert.Same(t, fe, got)
}
