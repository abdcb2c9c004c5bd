// Package engine implements the workflow execution state machine. It runs a
// workflow version's steps strictly in order against the action executor,
// resolving variables, masking sensitive values and classifying per-step
// failures for the self-healing engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kspranav-az/automation-agent/internal/browser"
	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// Logger is the logging interface the engine depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine executes workflow versions. Engines hold no per-execution state;
// concurrent executions are independent and each owns its browser session.
type Engine struct {
	executor    browser.Executor
	executions  repository.ExecutionStore
	audit       repository.AuditLog
	logger      Logger
	stepTimeout time.Duration
}

// New creates an Engine.
func New(executor browser.Executor, executions repository.ExecutionStore, audit repository.AuditLog, logger Logger, stepTimeout time.Duration) *Engine {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Engine{
		executor:    executor,
		executions:  executions,
		audit:       audit,
		logger:      logger,
		stepTimeout: stepTimeout,
	}
}

// Execute runs one workflow version with the given bindings and returns the
// terminal execution record. Step failures are reported through the record,
// not as an error; the error return is reserved for infrastructure faults
// that prevented recording the execution at all.
func (e *Engine) Execute(ctx context.Context, spec *models.WorkflowSpec, bindings map[string]string) (*models.ExecutionRecord, error) {
	bindings = applyDefaults(spec, bindings)

	rec := &models.ExecutionRecord{
		ID:         uuid.New().String(),
		WorkflowID: spec.WorkflowID,
		Version:    spec.Version,
		Status:     models.ExecutionStatusPending,
		Bindings:   MaskBindings(spec, bindings),
		StartedAt:  time.Now(),
	}
	steps := orderedSteps(spec)
	rec.Steps = make([]models.StepResult, len(steps))
	for i, step := range steps {
		rec.Steps[i] = models.StepResult{Position: step.Position, Status: models.StepStatusNotStarted}
	}

	if err := e.executions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}

	if name, ok := unboundRequired(spec, bindings); ok {
		e.logger.Warn("execution has unbound required variable", "execution", rec.ID, "variable", name)
		if len(rec.Steps) > 0 {
			rec.Steps[0].Status = models.StepStatusFailed
			rec.Steps[0].Cause = models.FailureCauseUnboundVariable
			rec.Steps[0].Detail = "unbound variable " + name
			skipRemaining(rec, 1)
		}
		return rec, e.finish(ctx, rec, models.ExecutionStatusFailed)
	}

	session, err := e.executor.OpenSession(ctx)
	if err != nil {
		e.logger.Error("failed to open browser session", "execution", rec.ID, "error", err)
		if len(rec.Steps) > 0 {
			rec.Steps[0].Status = models.StepStatusFailed
			rec.Steps[0].Cause = models.FailureCauseActionError
			rec.Steps[0].Detail = "open session: " + err.Error()
			skipRemaining(rec, 1)
		}
		return rec, e.finish(ctx, rec, models.ExecutionStatusFailed)
	}
	// The session is released on every exit path, including cancellation,
	// so the close must survive a dead parent context.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			e.logger.Warn("failed to close browser session", "execution", rec.ID, "error", err)
		}
	}()

	rec.Status = models.ExecutionStatusRunning
	for i, step := range steps {
		if ctx.Err() != nil {
			rec.Steps[i].Status = models.StepStatusSkipped
			skipRemaining(rec, i+1)
			return rec, e.finish(ctx, rec, models.ExecutionStatusAborted)
		}

		rec.Steps[i].Status = models.StepStatusExecuting
		result, aborted := e.runStep(ctx, session, &step, bindings)
		rec.Steps[i] = result
		if aborted {
			skipRemaining(rec, i+1)
			return rec, e.finish(ctx, rec, models.ExecutionStatusAborted)
		}
		if result.Status == models.StepStatusFailed {
			skipRemaining(rec, i+1)
			return rec, e.finish(ctx, rec, models.ExecutionStatusFailed)
		}
	}

	return rec, e.finish(ctx, rec, models.ExecutionStatusCompleted)
}

// runStep executes one step including its retry budget. The returned bool
// reports whether the caller's context was cancelled mid-step.
func (e *Engine) runStep(ctx context.Context, session browser.Session, step *models.Step, bindings map[string]string) (models.StepResult, bool) {
	result := models.StepResult{Position: step.Position, Status: models.StepStatusExecuting}

	input, err := resolveTemplate(step.Input, bindings)
	if err != nil {
		result.Status = models.StepStatusFailed
		result.Cause = models.FailureCauseUnboundVariable
		result.Detail = err.Error()
		return result, false
	}
	expect, err := resolveTemplate(step.Expect, bindings)
	if err != nil {
		result.Status = models.StepStatusFailed
		result.Cause = models.FailureCauseUnboundVariable
		result.Detail = err.Error()
		return result, false
	}

	action := browser.Action{Kind: step.Kind, Selector: step.Selector.Value, Input: input}

	attempts := 1 + step.RetryBudget
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt

		cause, detail, extracted := e.attempt(ctx, session, action, expect)
		if cause == "" {
			result.Status = models.StepStatusDone
			result.Cause = ""
			result.Detail = ""
			result.Extracted = extracted
			return result, false
		}
		if ctx.Err() != nil {
			result.Status = models.StepStatusSkipped
			return result, true
		}

		result.Status = models.StepStatusFailed
		result.Cause = cause
		result.Detail = detail

		if attempt < attempts {
			backoff := step.RetryBackoff
			if backoff <= 0 {
				backoff = time.Second
			}
			// Linear backoff; budgets are small fixed integers.
			select {
			case <-ctx.Done():
				result.Status = models.StepStatusSkipped
				return result, true
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}
	}
	return result, false
}

// attempt performs the action once and classifies the outcome. An empty
// cause means success.
func (e *Engine) attempt(ctx context.Context, session browser.Session, action browser.Action, expect string) (models.FailureCause, string, string) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	obs, err := session.Perform(stepCtx, action)
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return models.FailureCauseTimeout, "step timed out", ""
		}
		return models.FailureCauseActionError, err.Error(), ""
	}
	if obs.SelectorMissing {
		return models.FailureCauseSelectorNotFound, "selector not found: " + action.Selector, ""
	}
	if !obs.Success {
		return models.FailureCauseActionError, obs.Error, ""
	}
	if expect != "" && !predicateHolds(expect, obs) {
		return models.FailureCausePredicateMismatch, "expected outcome not observed: " + expect, obs.ExtractedValue
	}
	return "", "", obs.ExtractedValue
}

// predicateHolds checks the expected-outcome predicate against the
// observation. The predicate is a substring expected in the extracted value
// or, failing that, in the DOM snapshot.
func predicateHolds(expect string, obs *browser.Observation) bool {
	return strings.Contains(obs.ExtractedValue, expect) || strings.Contains(obs.DOMSnapshot, expect)
}

func (e *Engine) finish(ctx context.Context, rec *models.ExecutionRecord, status models.ExecutionStatus) error {
	now := time.Now()
	rec.Status = status
	rec.EndedAt = &now

	// Terminal state must be persisted even when the caller's context is
	// already cancelled.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.executions.Finish(finishCtx, rec); err != nil {
		return fmt.Errorf("finish execution record: %w", err)
	}
	entry := &models.AuditEntry{
		ID:          uuid.New().String(),
		Kind:        models.AuditKindExecutionFinished,
		WorkflowID:  rec.WorkflowID,
		Version:     rec.Version,
		ExecutionID: rec.ID,
		Detail:      map[string]string{"status": string(status)},
	}
	if failing := rec.FailingStep(); failing != nil {
		entry.Detail["cause"] = string(failing.Cause)
	}
	if err := e.audit.Append(finishCtx, entry); err != nil {
		e.logger.Error("failed to append audit entry", "execution", rec.ID, "error", err)
	}
	return nil
}

func orderedSteps(spec *models.WorkflowSpec) []models.Step {
	steps := make([]models.Step, len(spec.Steps))
	copy(steps, spec.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	return steps
}

func applyDefaults(spec *models.WorkflowSpec, bindings map[string]string) map[string]string {
	resolved := make(map[string]string, len(bindings))
	for k, v := range bindings {
		resolved[k] = v
	}
	for name, def := range spec.Variables {
		if _, ok := resolved[name]; !ok && def.Default != "" {
			resolved[name] = def.Default
		}
	}
	return resolved
}

func unboundRequired(spec *models.WorkflowSpec, bindings map[string]string) (string, bool) {
	for name, def := range spec.Variables {
		if def.Required {
			if v, ok := bindings[name]; !ok || v == "" {
				return name, true
			}
		}
	}
	return "", false
}

func skipRemaining(rec *models.ExecutionRecord, from int) {
	for i := from; i < len(rec.Steps); i++ {
		if rec.Steps[i].Status == models.StepStatusNotStarted {
			rec.Steps[i].Status = models.StepStatusSkipped
		}
	}
}
