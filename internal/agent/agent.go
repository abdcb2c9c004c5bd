// Package agent implements the adaptive executor: a plan-act loop that asks
// the language model for the next browser action toward a goal, without a
// pre-recorded script. Successful runs produce the step traces the router
// learns new workflows from.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kspranav-az/automation-agent/internal/browser"
	"github.com/kspranav-az/automation-agent/internal/llm"
	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// Logger is the logging interface the agent depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TraceStep is one performed action in an agent run, in replayable form.
type TraceStep struct {
	Kind     models.StepKind `json:"kind"`
	Selector string          `json:"selector,omitempty"`
	Input    string          `json:"input,omitempty"`
}

// Result is the outcome of one agent-direct run.
type Result struct {
	Record *models.ExecutionRecord
	Trace  []TraceStep
}

// Agent plans and performs actions guided by the language model.
type Agent struct {
	llm      llm.Client
	executor browser.Executor
	store    repository.ExecutionStore
	logger   Logger
	maxSteps int
}

// New creates an Agent. maxSteps bounds the plan-act loop.
func New(llmClient llm.Client, executor browser.Executor, store repository.ExecutionStore, logger Logger, maxSteps int) *Agent {
	if maxSteps <= 0 {
		maxSteps = 20
	}
	return &Agent{
		llm:      llmClient,
		executor: executor,
		store:    store,
		logger:   logger,
		maxSteps: maxSteps,
	}
}

// Run pursues the goal until the model declares it done or the step budget
// runs out. The returned record is terminal; the trace holds the performed
// actions for workflow synthesis. Bindings named in sensitive are persisted
// as placeholder tokens only.
func (a *Agent) Run(ctx context.Context, goal string, bindings map[string]string, sensitive map[string]bool) (*Result, error) {
	rec := &models.ExecutionRecord{
		ID:          uuid.New().String(),
		AgentDirect: true,
		Status:      models.ExecutionStatusRunning,
		Bindings:    maskBindings(bindings, sensitive),
		StartedAt:   time.Now(),
	}
	if err := a.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}

	session, err := a.executor.OpenSession(ctx)
	if err != nil {
		rec.Steps = []models.StepResult{{
			Position: 0,
			Status:   models.StepStatusFailed,
			Cause:    models.FailureCauseActionError,
			Detail:   "open session: " + err.Error(),
		}}
		return &Result{Record: rec}, a.finish(ctx, rec, models.ExecutionStatusFailed)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			a.logger.Warn("failed to close agent session", "execution", rec.ID, "error", err)
		}
	}()

	var (
		history []llm.AgentStep
		trace   []TraceStep
		dom     string
	)
	for position := 0; position < a.maxSteps; position++ {
		if ctx.Err() != nil {
			return &Result{Record: rec, Trace: trace}, a.finish(ctx, rec, models.ExecutionStatusAborted)
		}

		planned, err := a.llm.NextAction(ctx, goal, history, dom)
		if err != nil {
			rec.Steps = append(rec.Steps, models.StepResult{
				Position: position,
				Status:   models.StepStatusFailed,
				Cause:    models.FailureCauseActionError,
				Detail:   "plan next action: " + err.Error(),
			})
			return &Result{Record: rec, Trace: trace}, a.finish(ctx, rec, models.ExecutionStatusFailed)
		}
		if planned.Done {
			return &Result{Record: rec, Trace: trace}, a.finish(ctx, rec, models.ExecutionStatusCompleted)
		}

		action := browser.Action{
			Kind:     models.StepKind(planned.Kind),
			Selector: planned.Selector,
			Input:    planned.Input,
		}
		obs, err := session.Perform(ctx, action)
		result := models.StepResult{Position: position, Status: models.StepStatusDone, Attempts: 1}
		switch {
		case err != nil:
			result.Status = models.StepStatusFailed
			result.Cause = models.FailureCauseActionError
			result.Detail = err.Error()
		case obs.SelectorMissing:
			result.Status = models.StepStatusFailed
			result.Cause = models.FailureCauseSelectorNotFound
			result.Detail = "selector not found: " + action.Selector
		case !obs.Success:
			result.Status = models.StepStatusFailed
			result.Cause = models.FailureCauseActionError
			result.Detail = obs.Error
		default:
			result.Extracted = obs.ExtractedValue
			dom = obs.DOMSnapshot
		}
		rec.Steps = append(rec.Steps, result)

		planned.Result = string(result.Status)
		history = append(history, *planned)

		if result.Status == models.StepStatusFailed {
			return &Result{Record: rec, Trace: trace}, a.finish(ctx, rec, models.ExecutionStatusFailed)
		}
		trace = append(trace, TraceStep{Kind: action.Kind, Selector: action.Selector, Input: action.Input})
	}

	// Step budget exhausted without the model declaring success.
	rec.Steps = append(rec.Steps, models.StepResult{
		Position: a.maxSteps,
		Status:   models.StepStatusFailed,
		Cause:    models.FailureCauseActionError,
		Detail:   fmt.Sprintf("agent exceeded %d steps", a.maxSteps),
	})
	return &Result{Record: rec, Trace: trace}, a.finish(ctx, rec, models.ExecutionStatusFailed)
}

// maskBindings copies the bindings with every sensitive value replaced by its
// placeholder token. Only the masked copy ever reaches the execution store.
func maskBindings(bindings map[string]string, sensitive map[string]bool) map[string]string {
	if len(bindings) == 0 {
		return bindings
	}
	masked := make(map[string]string, len(bindings))
	for name, value := range bindings {
		if sensitive[name] {
			masked[name] = "[masked:" + name + "]"
			continue
		}
		masked[name] = value
	}
	return masked
}

func (a *Agent) finish(ctx context.Context, rec *models.ExecutionRecord, status models.ExecutionStatus) error {
	now := time.Now()
	rec.Status = status
	rec.EndedAt = &now

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.store.Finish(finishCtx, rec); err != nil {
		return fmt.Errorf("finish execution record: %w", err)
	}
	return nil
}
