package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dossierhq/dossier/pkg/models"
)

// StepTrace records one executed workflow step, exposed for tracing.
type StepTrace struct {
	StepIndex    int               `json:"step_index"`
	AgentID      string            `json:"agent_id"`
	Skipped      bool              `json:"skipped"`
	SkipReason   string            `json:"skip_reason,omitempty"`
	Failed       bool              `json:"failed"`
	Error        string            `json:"error,omitempty"`
	Output       string            `json:"output,omitempty"`
	Tokens       models.TokenUsage `json:"tokens"`
	SystemPrompt string            `json:"-"`
}

// WorkflowResult is the outcome of one workflow turn.
type WorkflowResult struct {
	ResponseText string            `json:"response_text"`
	MessageID    string            `json:"message_id"`
	Steps        []StepTrace       `json:"steps"`
	Tokens       models.TokenUsage `json:"tokens"`
}

// WorkflowRunner chains agent turns sequentially, threading each step's
// output into the next step's prompt.
type WorkflowRunner struct {
	agents *AgentRunner
}

// NewWorkflowRunner creates a workflow runner on top of an agent runner.
func NewWorkflowRunner(agents *AgentRunner) *WorkflowRunner {
	return &WorkflowRunner{agents: agents}
}

// RunWorkflowTurn executes one user turn against a workflow: persists the
// user message once, then runs each step in declaration order. Inactive
// agents are skipped, step conditions are evaluated against the run state,
// and a failed step either halts the run (halt-on-error) or is logged and
// passed over with the last successful output still threaded forward. The
// final assistant message is the last successful step's output.
func (w *WorkflowRunner) RunWorkflowTurn(ctx context.Context, userID, workflowID, chatID, text string) (*WorkflowResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.turn")
	span.SetAttributes(attribute.String("workflow.id", workflowID))
	defer span.End()

	wf, err := w.agents.deps.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, &TurnError{Stage: "configuration", Err: err}
	}
	if !wf.Active {
		return nil, &TurnError{Stage: "configuration", Err: fmt.Errorf("workflow %s is inactive", workflowID)}
	}
	if len(wf.Steps) == 0 {
		return nil, &TurnError{Stage: "configuration", Err: fmt.Errorf("workflow %s has no steps", workflowID)}
	}
	chat, err := w.agents.deps.Store.GetChat(ctx, chatID)
	if err != nil {
		return nil, &TurnError{Stage: "configuration", Err: err}
	}

	unlock := w.agents.locks.lock(chatID)
	defer unlock()

	history, err := w.agents.persistUserMessage(ctx, chat, text)
	if err != nil {
		return nil, &TurnError{Stage: "persistence", Err: err}
	}

	result := &WorkflowResult{}
	previousOutput := ""
	anySucceeded := false

	for i, step := range wf.Steps {
		trace := StepTrace{StepIndex: i, AgentID: step.AgentID}

		agent, err := w.agents.deps.Store.GetAgent(ctx, step.AgentID)
		if err != nil {
			stepErr := &WorkflowStepError{StepIndex: i, AgentID: step.AgentID, Err: err}
			if wf.HaltOnError {
				result.Steps = append(result.Steps, traceFailure(trace, stepErr))
				return result, stepErr
			}
			log.Warn().Err(stepErr).Str("workflow", workflowID).Msg("Workflow step agent missing, continuing")
			result.Steps = append(result.Steps, traceFailure(trace, stepErr))
			continue
		}

		if !agent.Active {
			trace.Skipped = true
			trace.SkipReason = "agent inactive"
			result.Steps = append(result.Steps, trace)
			continue
		}

		if step.Condition != "" {
			ok, err := evalStepCondition(step.Condition, conditionEnv(previousOutput, i, anySucceeded))
			if err != nil {
				// A broken condition never silently runs the step.
				stepErr := &WorkflowStepError{StepIndex: i, AgentID: step.AgentID,
					Err: fmt.Errorf("condition %q: %w", step.Condition, err)}
				if wf.HaltOnError {
					result.Steps = append(result.Steps, traceFailure(trace, stepErr))
					return result, stepErr
				}
				log.Warn().Err(stepErr).Str("workflow", workflowID).Msg("Workflow step condition failed, skipping step")
				trace.Skipped = true
				trace.SkipReason = fmt.Sprintf("condition error: %v", err)
				result.Steps = append(result.Steps, trace)
				continue
			}
			if !ok {
				trace.Skipped = true
				trace.SkipReason = "condition false"
				result.Steps = append(result.Steps, trace)
				continue
			}
		}

		stepResult, err := w.agents.runStep(ctx, stepRequest{
			userID:         userID,
			agent:          agent,
			chat:           chat,
			question:       text,
			history:        history,
			previousOutput: previousOutput,
			action:         models.UsageActionWorkflowStep,
		})
		if err != nil {
			stepErr := &WorkflowStepError{StepIndex: i, AgentID: step.AgentID, Err: err}
			if wf.HaltOnError {
				result.Steps = append(result.Steps, traceFailure(trace, stepErr))
				return result, stepErr
			}
			log.Warn().Err(stepErr).Str("workflow", workflowID).Msg("Workflow step failed, continuing")
			// previousOutput is left as the last successful step's
			// output, so the next step still builds on real content.
			result.Steps = append(result.Steps, traceFailure(trace, stepErr))
			continue
		}

		anySucceeded = true
		previousOutput = stepResult.ResponseText
		trace.Output = stepResult.ResponseText
		trace.Tokens = stepResult.Tokens
		trace.SystemPrompt = stepResult.SystemPrompt
		result.Steps = append(result.Steps, trace)
		result.Tokens.Add(stepResult.Tokens)
		result.ResponseText = stepResult.ResponseText
		result.MessageID = stepResult.MessageID
	}

	if !anySucceeded {
		return result, &TurnError{Stage: "provider", Err: fmt.Errorf("no workflow step produced output")}
	}

	log.Info().
		Str("workflow", workflowID).
		Str("chat", chatID).
		Int("steps", len(result.Steps)).
		Int64("tokens", result.Tokens.Total()).
		Msg("Workflow turn complete")

	return result, nil
}

func traceFailure(t StepTrace, err error) StepTrace {
	t.Failed = true
	t.Error = err.Error()
	return t
}

// conditionEnv is the expression environment a step condition sees.
func conditionEnv(previousOutput string, stepIndex int, anySucceeded bool) map[string]any {
	return map[string]any{
		"previous_output": previousOutput,
		"step_index":      stepIndex,
		"any_succeeded":   anySucceeded,
		"contains":        strings.Contains,
	}
}

// evalStepCondition compiles and evaluates one boolean step condition.
func evalStepCondition(condition string, env map[string]any) (bool, error) {
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out)
	}
	return ok, nil
}
