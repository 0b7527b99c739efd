package executor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/flowengine/flowengine/pkg/agent"
	"github.com/flowengine/flowengine/pkg/expression"
	"github.com/flowengine/flowengine/pkg/wfcontext"
)

// AgentDefinition is what AgentLoader resolves a named agent to: its
// system prompt and the tool allow/block regex filters names.
type AgentDefinition struct {
	Name          string
	SystemPrompt  string
	Model         string
	AllowedTools  []string
	BlockedTools  []string
	MaxRounds     int
	Timeout       time.Duration
}

// AgentLoader resolves an agent definition by name. Concrete loading
// from disk and prompt-variable substitution are external collaborators
// (Out of scope list) — only this contract matters here.
type AgentLoader interface {
	Load(name string) (*AgentDefinition, error)
}

// GeneratorFactory builds a ContentGenerator for a resolved agent
// definition (e.g. picking a concrete LLM client by model tier).
type GeneratorFactory interface {
	ForModel(model string) (agent.ContentGenerator, error)
}

// ToolRegistry is the external tool collaborator: it knows
// the full set of available tools and can build a Scheduler restricted
// to a filtered subset of them.
type ToolRegistry interface {
	FilteredScheduler(allow, block []string) (agent.Scheduler, error)
}

// HistoryStore persists a finished chat history under an execution-ID
// tag. Persistence failures are logged but never fail the step.
type HistoryStore interface {
	Save(executionID string, history []agent.Message) error
}

// AgentExecutor runs the bounded tool-call loop for an agent step,
// adapting the teacher's pkg/agent.Agent to the step-executor contract:
// it resolves the named agent, builds a model-specific generator and a
// tool-filtered scheduler, and wraps the run in the agent's configured
// timeout (default 60s).
type AgentExecutor struct {
	Loader    AgentLoader
	Factory   GeneratorFactory
	Tools     ToolRegistry
	History   HistoryStore
	Logger    func(format string, args ...interface{})
}

// NewAgentExecutor wires an agent step executor to its collaborators.
func NewAgentExecutor(loader AgentLoader, factory GeneratorFactory, tools ToolRegistry, history HistoryStore) *AgentExecutor {
	return &AgentExecutor{Loader: loader, Factory: factory, Tools: tools, History: history, Logger: func(string, ...interface{}) {}}
}

func (a *AgentExecutor) CanExecute(step Step) bool { return step.Type == StepTypeAgent }

func (a *AgentExecutor) Validate(step Step) ValidationResult {
	var errs []string
	if step.Type != StepTypeAgent {
		errs = append(errs, fmt.Sprintf("expected agent step, got %q", step.Type))
	}
	name, ok := step.Config["agent"].(string)
	if !ok || name == "" {
		errs = append(errs, "agent step requires an agent name")
	}
	for _, pattern := range append(stringSlice(step.Config["allowedTools"]), stringSlice(step.Config["blockedTools"])...) {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("invalid tool filter pattern %q: %v", pattern, err))
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// AgentResult is the Output.Data payload for an agent step.
type AgentResult struct {
	FinalResponse string
	Rounds        int
	TokensUsed    agent.TokenUsage
	ToolCalls     int
}

func (a *AgentExecutor) Execute(ctx context.Context, step Step, wfCtx *wfcontext.Context) (Output, error) {
	agentName, _ := step.Config["agent"].(string)
	def, err := a.Loader.Load(agentName)
	if err != nil {
		return Output{}, fmt.Errorf("loading agent %q: %w", agentName, err)
	}

	generator, err := a.Factory.ForModel(def.Model)
	if err != nil {
		return Output{}, fmt.Errorf("building content generator: %w", err)
	}

	scheduler, err := a.Tools.FilteredScheduler(def.AllowedTools, def.BlockedTools)
	if err != nil {
		return Output{}, fmt.Errorf("building tool scheduler: %w", err)
	}

	evalCtx := buildExpressionContext(wfCtx)
	promptRaw, _ := step.Config["prompt"].(string)
	if promptRaw == "" {
		promptRaw = def.SystemPrompt
	}
	prompt, err := expression.Interpolate(promptRaw, evalCtx, expression.Options{Strict: true})
	if err != nil {
		return Output{}, fmt.Errorf("interpolating prompt: %w", err)
	}

	maxRounds := def.MaxRounds
	if maxRounds == 0 {
		maxRounds = 20
	}
	timeout := def.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if t, ok := step.Config["timeout"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Millisecond
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := agent.NewAgent(generator, scheduler).WithMaxRounds(maxRounds)
	result, runErr := runner.Run(runCtx, def.SystemPrompt, prompt, nil)
	if runErr != nil {
		return Output{}, fmt.Errorf("agent run failed: %w", runErr)
	}

	if a.History != nil {
		executionID := fmt.Sprintf("%s-%s", wfCtx.GetWorkflowID(), step.ID)
		if err := a.History.Save(executionID, result.History); err != nil {
			a.Logger("failed to persist agent chat history for %s: %v", executionID, err)
		}
	}

	output := AgentResult{
		FinalResponse: result.FinalResponse,
		Rounds:        result.Rounds,
		TokensUsed:    result.TokensUsed,
		ToolCalls:     len(result.ToolExecutions),
	}
	if !result.Success {
		return Output{Data: output}, fmt.Errorf("agent step failed: %s", result.Error)
	}
	return Output{Data: output}, nil
}
