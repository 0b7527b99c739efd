package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	responses []*Response
	calls     int
	err       error
}

func (s *stubGenerator) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

type stubScheduler struct {
	result []ToolResult
	err    error
}

func (s *stubScheduler) Schedule(ctx context.Context, calls []ToolCall, cancel <-chan struct{}) ([]ToolResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestAgentStopsWhenNoToolCalls(t *testing.T) {
	gen := &stubGenerator{responses: []*Response{
		{Content: "done", FinishReason: "stop"},
	}}
	a := NewAgent(gen, &stubScheduler{})

	result, err := a.Run(context.Background(), "system", "hello", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.FinalResponse)
	assert.Equal(t, 1, result.Rounds)
}

func TestAgentExecutesToolCallsAndContinues(t *testing.T) {
	gen := &stubGenerator{responses: []*Response{
		{Content: "", ToolCalls: []ToolCall{{ID: "1", Name: "search", Arguments: map[string]interface{}{"q": "go"}}}},
		{Content: "final answer"},
	}}
	sched := &stubScheduler{result: []ToolResult{
		{ToolCallID: "1", ToolName: "search", Output: "result text", Success: true},
	}}
	a := NewAgent(gen, sched)

	result, err := a.Run(context.Background(), "system", "hello", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "final answer", result.FinalResponse)
	require.Len(t, result.ToolExecutions, 1)
	assert.True(t, result.ToolExecutions[0].Success)
	assert.Equal(t, 2, result.Rounds)
}

func TestAgentAppendsWarningAtMaxRounds(t *testing.T) {
	gen := &stubGenerator{responses: []*Response{
		{Content: "still working", ToolCalls: []ToolCall{{ID: "1", Name: "noop"}}},
	}}
	sched := &stubScheduler{result: []ToolResult{
		{ToolCallID: "1", ToolName: "noop", Success: true},
	}}
	a := NewAgent(gen, sched).WithMaxRounds(2)

	result, err := a.Run(context.Background(), "system", "hello", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.FinalResponse, "[Warning: Agent conversation reached maximum rounds limit]")
}

func TestAgentSurfacesGenerationError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("provider unavailable")}
	a := NewAgent(gen, &stubScheduler{})

	result, err := a.Run(context.Background(), "system", "hello", nil)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "provider unavailable")
}

func TestAgentHonorsCancelChannel(t *testing.T) {
	gen := &stubGenerator{responses: []*Response{
		{Content: "", ToolCalls: []ToolCall{{ID: "1", Name: "noop"}}},
	}}
	sched := &stubScheduler{result: []ToolResult{{ToolCallID: "1", ToolName: "noop", Success: true}}}
	a := NewAgent(gen, sched)

	cancel := make(chan struct{})
	close(cancel)

	result, err := a.Run(context.Background(), "system", "hello", cancel)
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestFormatToolResultFailure(t *testing.T) {
	msg := formatToolResult(ToolResult{ToolName: "search", Success: false, Error: "timed out"})
	assert.Equal(t, "Error executing search: timed out", msg)
}
