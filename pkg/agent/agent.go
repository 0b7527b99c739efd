// Package agent implements the bounded tool-call loop that backs the
// agent step executor ("Agent executor"). The loop itself never
// depends on a concrete LLM or tool implementation — both providers and
// tools are reached only through the ContentGenerator and Scheduler
// interfaces, matching external-collaborator boundary.
//
// Adapted from the teacher's ReAct loop in this same package: the shape
// (Message/ToolCall/Response/Result, iterate-until-no-tool-calls) is kept,
// generalized to a pluggable tool scheduler instead of a concrete
// registry, and to the engine's maxRounds/termination-marker contract.
package agent

import (
	"context"
	"fmt"
	"time"
)

// maxRoundsMarker is appended to the final response when the loop is cut
// short by maxRounds, fixture 5.
const maxRoundsMarker = "\n[Warning: Agent conversation reached maximum rounds limit]"

// ContentGenerator is the LLM boundary: given the conversation so far, it
// returns the assistant's next turn.
type ContentGenerator interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Scheduler dispatches a batch of tool calls and returns their results.
// cancel is closed to request cooperative early termination between
// calls; auto-approval is the caller's responsibility (a field on the
// concrete scheduler implementation), not a global mode, 
type Scheduler interface {
	Schedule(ctx context.Context, calls []ToolCall, cancel <-chan struct{}) ([]ToolResult, error)
}

// Message represents one turn in the conversation.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

// ToolResult is the outcome of one scheduled tool call.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Output     interface{}
	Success    bool
	Error      string
	Duration   time.Duration
}

// Response is one ContentGenerator turn.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption for a single Complete call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Result is the outcome of a full agent run.
type Result struct {
	Success        bool
	FinalResponse  string
	ToolExecutions []ToolExecution
	Rounds         int
	TokensUsed     TokenUsage
	Duration       time.Duration
	Error          string
	History        []Message
}

// ToolExecution records one tool call and its result for the step's
// observability trail.
type ToolExecution struct {
	ToolName string
	Inputs   interface{}
	Outputs  interface{}
	Success  bool
	Error    string
	Duration time.Duration
}

// Agent runs the bounded ReAct loop: send message, observe tool calls,
// schedule them, feed results back, repeat until the generator stops
// requesting tools or maxRounds is exhausted.
type Agent struct {
	generator      ContentGenerator
	scheduler      Scheduler
	maxRounds      int
	contextManager *ContextManager
}

// NewAgent creates an agent wired to a content generator and tool scheduler.
func NewAgent(generator ContentGenerator, scheduler Scheduler) *Agent {
	return &Agent{
		generator:      generator,
		scheduler:      scheduler,
		maxRounds:      20,
		contextManager: NewContextManager(100000),
	}
}

// WithMaxRounds overrides the default round limit.
func (a *Agent) WithMaxRounds(max int) *Agent {
	if max > 0 {
		a.maxRounds = max
	}
	return a
}

// Run executes the loop. systemPrompt and userPrompt seed the
// conversation; cancel, if non-nil, is checked between rounds for
// cooperative cancellation ("between tool-call rounds").
func (a *Agent) Run(ctx context.Context, systemPrompt, userPrompt string, cancel <-chan struct{}) (*Result, error) {
	start := time.Now()
	result := &Result{ToolExecutions: []ToolExecution{}}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	for round := 1; round <= a.maxRounds; round++ {
		result.Rounds = round

		select {
		case <-ctx.Done():
			result.Error = ctx.Err().Error()
			result.Duration = time.Since(start)
			result.History = messages
			return result, ctx.Err()
		default:
		}
		if cancel != nil {
			select {
			case <-cancel:
				result.Error = "agent run cancelled"
				result.Duration = time.Since(start)
				result.History = messages
				return result, fmt.Errorf("agent run cancelled")
			default:
			}
		}

		response, err := a.generator.Complete(ctx, messages)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("content generation failed: %v", err)
			result.Duration = time.Since(start)
			result.History = messages
			return result, fmt.Errorf("content generation failed: %w", err)
		}

		result.TokensUsed.InputTokens += response.Usage.InputTokens
		result.TokensUsed.OutputTokens += response.Usage.OutputTokens
		result.TokensUsed.TotalTokens += response.Usage.TotalTokens

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		if len(response.ToolCalls) == 0 {
			result.Success = true
			result.FinalResponse = response.Content
			result.Duration = time.Since(start)
			result.History = messages
			return result, nil
		}

		toolResults, err := a.scheduler.Schedule(ctx, response.ToolCalls, cancel)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("tool scheduling failed: %v", err)
			result.Duration = time.Since(start)
			result.History = messages
			return result, fmt.Errorf("tool scheduling failed: %w", err)
		}

		for _, tr := range toolResults {
			result.ToolExecutions = append(result.ToolExecutions, ToolExecution{
				ToolName: tr.ToolName,
				Outputs:  tr.Output,
				Success:  tr.Success,
				Error:    tr.Error,
				Duration: tr.Duration,
			})
			messages = append(messages, Message{
				Role:       "tool",
				Content:    formatToolResult(tr),
				ToolCallID: tr.ToolCallID,
			})
		}

		if a.contextManager.ShouldPrune(messages) {
			messages = a.contextManager.Prune(messages)
		}
	}

	result.Success = true
	lastText := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			lastText = messages[i].Content
			break
		}
	}
	result.FinalResponse = lastText + maxRoundsMarker
	result.Duration = time.Since(start)
	result.History = messages
	return result, nil
}

func formatToolResult(tr ToolResult) string {
	if !tr.Success {
		return fmt.Sprintf("Error executing %s: %s", tr.ToolName, tr.Error)
	}
	return fmt.Sprintf("Tool %s completed successfully: %v", tr.ToolName, tr.Output)
}
