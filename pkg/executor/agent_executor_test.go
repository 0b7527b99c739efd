package executor

import (
	"context"
	"testing"
	"time"

	"github.com/flowengine/flowengine/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	def *AgentDefinition
	err error
}

func (s *stubLoader) Load(name string) (*AgentDefinition, error) { return s.def, s.err }

type stubFactory struct {
	gen agent.ContentGenerator
}

func (s *stubFactory) ForModel(model string) (agent.ContentGenerator, error) { return s.gen, nil }

type stubGen struct{}

func (s *stubGen) Complete(ctx context.Context, messages []agent.Message) (*agent.Response, error) {
	return &agent.Response{Content: "answered: " + messages[len(messages)-1].Content}, nil
}

type stubToolRegistry struct{}

func (s *stubToolRegistry) FilteredScheduler(allow, block []string) (agent.Scheduler, error) {
	return stubAgentScheduler{}, nil
}

type stubAgentScheduler struct{}

func (s stubAgentScheduler) Schedule(ctx context.Context, calls []agent.ToolCall, cancel <-chan struct{}) ([]agent.ToolResult, error) {
	return nil, nil
}

type stubHistory struct {
	saved bool
}

func (s *stubHistory) Save(executionID string, history []agent.Message) error {
	s.saved = true
	return nil
}

func TestAgentExecutorRunsLoopAndPersistsHistory(t *testing.T) {
	loader := &stubLoader{def: &AgentDefinition{
		Name:         "researcher",
		SystemPrompt: "you are helpful",
		Model:        "balanced",
		MaxRounds:    5,
		Timeout:      5 * time.Second,
	}}
	history := &stubHistory{}
	ex := NewAgentExecutor(loader, &stubFactory{gen: &stubGen{}}, &stubToolRegistry{}, history)

	step := Step{
		Type: StepTypeAgent,
		ID:   "agent-step",
		Config: map[string]interface{}{
			"agent":  "researcher",
			"prompt": "find {{variables.name}}",
		},
	}

	out, err := ex.Execute(context.Background(), step, newTestWFContext())
	require.NoError(t, err)
	result, ok := out.Data.(AgentResult)
	require.True(t, ok)
	assert.Contains(t, result.FinalResponse, "find alice")
	assert.True(t, history.saved)
}

func TestAgentExecutorValidateRequiresAgentName(t *testing.T) {
	ex := NewAgentExecutor(&stubLoader{}, &stubFactory{}, &stubToolRegistry{}, nil)
	vr := ex.Validate(Step{Type: StepTypeAgent, Config: map[string]interface{}{}})
	assert.False(t, vr.Valid)
}

func TestAgentExecutorSurfacesLoaderError(t *testing.T) {
	loader := &stubLoader{err: assert.AnError}
	ex := NewAgentExecutor(loader, &stubFactory{gen: &stubGen{}}, &stubToolRegistry{}, nil)
	step := Step{Type: StepTypeAgent, Config: map[string]interface{}{"agent": "missing"}}

	_, err := ex.Execute(context.Background(), step, newTestWFContext())
	assert.Error(t, err)
}
