// Package router classifies prompts and dispatches them: replay a recorded
// workflow when one fits, otherwise delegate to the adaptive agent. It also
// runs the learning loop that turns repeated agent successes into draft
// workflow candidates.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kspranav-az/automation-agent/internal/agent"
	"github.com/kspranav-az/automation-agent/internal/llm"
	"github.com/kspranav-az/automation-agent/internal/repository"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// ErrMissingCredential is returned when a matching workflow requires a
// sensitive variable that the prompt did not bind. The router fails fast
// here instead of escalating: the agent is never allowed to improvise
// credential entry.
var ErrMissingCredential = errors.New("missing required sensitive variable")

// ErrEmptyPrompt is returned for an empty or whitespace-only prompt.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// Logger is the logging interface the router depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// WorkflowRunner executes a workflow version; the execution engine satisfies it.
type WorkflowRunner interface {
	Execute(ctx context.Context, spec *models.WorkflowSpec, bindings map[string]string) (*models.ExecutionRecord, error)
}

// AgentRunner executes a goal adaptively; the agent satisfies it. sensitive
// names the bindings whose values must not be persisted in clear.
type AgentRunner interface {
	Run(ctx context.Context, goal string, bindings map[string]string, sensitive map[string]bool) (*agent.Result, error)
}

// Healer diagnoses failed executions; the self-healing engine satisfies it.
type Healer interface {
	Diagnose(ctx context.Context, rec *models.ExecutionRecord) (*models.HealingProposal, error)
}

// Router routes prompts to workflows or the adaptive agent.
type Router struct {
	llm        llm.Client
	workflows  repository.WorkflowStore
	executions repository.ExecutionStore
	audit      repository.AuditLog
	engine     WorkflowRunner
	agent      AgentRunner
	healer     Healer
	logger     Logger

	learnThreshold int

	decisions metric.Int64Counter
}

// New creates a Router. learnThreshold is the number of consecutive
// identical agent successes required before a draft workflow is synthesized.
func New(llmClient llm.Client, workflows repository.WorkflowStore, executions repository.ExecutionStore, audit repository.AuditLog, engine WorkflowRunner, agentRunner AgentRunner, healer Healer, logger Logger, learnThreshold int) *Router {
	if learnThreshold <= 0 {
		learnThreshold = 3
	}
	meter := otel.Meter("automation-agent/router")
	decisions, err := meter.Int64Counter("routing_decisions_total",
		metric.WithDescription("Routing decisions by strategy"))
	if err != nil {
		logger.Warn("failed to create routing counter", "error", err)
	}
	return &Router{
		llm:            llmClient,
		workflows:      workflows,
		executions:     executions,
		audit:          audit,
		engine:         engine,
		agent:          agentRunner,
		healer:         healer,
		logger:         logger,
		learnThreshold: learnThreshold,
		decisions:      decisions,
	}
}

// Route classifies a prompt and returns the chosen strategy. Every decision
// is appended to the audit log regardless of what happens afterwards.
func (r *Router) Route(ctx context.Context, prompt string) (*models.Decision, error) {
	if isBlank(prompt) {
		return nil, ErrEmptyPrompt
	}

	intent, err := r.llm.ParseIntent(ctx, prompt)
	if err != nil || intent == nil {
		// Parsing failures degrade to the agent, never fail the request.
		r.logger.Warn("intent parsing failed, degrading to agent", "error", err)
		intent = &models.Intent{}
	}

	decision, err := r.decide(ctx, prompt, intent)
	if err != nil {
		return nil, err
	}

	r.recordDecision(ctx, intent, decision)
	return decision, nil
}

func (r *Router) decide(ctx context.Context, prompt string, intent *models.Intent) (*models.Decision, error) {
	agentDecision := func(reason string, confidence float64) *models.Decision {
		return &models.Decision{
			Kind:       models.DecisionUseAgent,
			Goal:       prompt,
			Site:       intent.Site,
			IntentTag:  intent.IntentTag,
			Bindings:   intent.Variables,
			Confidence: confidence,
			Reason:     reason,
		}
	}

	if intent.Site == "" || intent.IntentTag == "" {
		return agentDecision("prompt did not resolve to a site and intent", 0.3), nil
	}

	matches, err := r.workflows.ListApproved(ctx, intent.Site, intent.IntentTag)
	if err != nil {
		return nil, fmt.Errorf("list approved workflows: %w", err)
	}
	if len(matches) == 0 {
		return agentDecision("no approved workflow for site and intent", 0.6), nil
	}

	// Narrow to workflows whose required variables are all resolvable from
	// the bound variables (or defaults). A workflow missing only a
	// sensitive variable is a hard error, not an escalation.
	var (
		viable           []*models.WorkflowSpec
		missingSensitive bool
	)
	for _, spec := range matches {
		ok, sensitive := resolvable(spec, intent.Variables)
		if ok {
			viable = append(viable, spec)
		} else if sensitive {
			missingSensitive = true
		}
	}
	if len(viable) == 0 {
		if missingSensitive {
			return nil, fmt.Errorf("workflow for %s/%s: %w", intent.Site, intent.IntentTag, ErrMissingCredential)
		}
		decision := agentDecision("matching workflows could not be disambiguated from bound variables", 0.4)
		decision.Sensitive = sensitiveVars(matches)
		return decision, nil
	}

	chosen := viable[0]
	if len(viable) > 1 {
		chosen = r.tieBreak(ctx, viable)
	}

	return &models.Decision{
		Kind:       models.DecisionUseWorkflow,
		WorkflowID: chosen.WorkflowID,
		Version:    chosen.Version,
		Site:       intent.Site,
		IntentTag:  intent.IntentTag,
		Bindings:   intent.Variables,
		Sensitive:  sensitiveVars([]*models.WorkflowSpec{chosen}),
		Confidence: 0.9,
		Reason:     fmt.Sprintf("approved workflow %s v%d matches %s/%s", chosen.Name, chosen.Version, intent.Site, intent.IntentTag),
	}, nil
}

// tieBreak picks among multiple viable workflows: highest version first,
// then the one with the most recent successful execution.
func (r *Router) tieBreak(ctx context.Context, candidates []*models.WorkflowSpec) *models.WorkflowSpec {
	best := candidates[0]
	bestSuccess := int64(-1)
	for _, c := range candidates {
		if c.Version > best.Version {
			best = c
			bestSuccess = -1
			continue
		}
		if c.Version < best.Version || c == best {
			continue
		}
		if bestSuccess < 0 {
			bestSuccess, _ = r.executions.LastSuccessAt(ctx, best.WorkflowID, best.Version)
		}
		at, err := r.executions.LastSuccessAt(ctx, c.WorkflowID, c.Version)
		if err == nil && at > bestSuccess {
			best = c
			bestSuccess = at
		}
	}
	return best
}

// HandlePrompt routes the prompt and runs the chosen strategy end to end.
// The returned record is always terminal; a drift failure additionally
// carries a reference to its pending healing proposal.
func (r *Router) HandlePrompt(ctx context.Context, prompt string) (*models.ExecutionRecord, error) {
	decision, err := r.Route(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if decision.Kind == models.DecisionUseAgent {
		return r.runAgent(ctx, decision)
	}

	spec, err := r.workflows.Load(ctx, decision.WorkflowID, decision.Version)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s v%d: %w", decision.WorkflowID, decision.Version, err)
	}
	rec, err := r.engine.Execute(ctx, spec, decision.Bindings)
	if err != nil {
		return nil, err
	}

	if rec.Status != models.ExecutionStatusFailed {
		return rec, nil
	}
	failing := rec.FailingStep()
	if failing != nil && failing.Cause.DriftCompatible() {
		proposal, err := r.healer.Diagnose(ctx, rec)
		if err != nil {
			r.logger.Error("diagnosis failed", "execution", rec.ID, "error", err)
		} else if proposal != nil {
			rec.ProposalID = proposal.ID
		}
		return rec, nil
	}
	if failing != nil && failing.Cause == models.FailureCauseUnboundVariable {
		return rec, nil
	}

	// Operational failure of a recorded workflow; the agent gets a chance
	// to finish the task adaptively.
	r.logger.Info("workflow failed with non-drift cause, falling back to agent",
		"execution", rec.ID, "cause", string(failing.Cause))
	fallback := &models.Decision{
		Kind:      models.DecisionUseAgent,
		Goal:      prompt,
		Site:      decision.Site,
		IntentTag: decision.IntentTag,
		Bindings:  decision.Bindings,
		Sensitive: sensitiveVars([]*models.WorkflowSpec{spec}),
	}
	return r.runAgent(ctx, fallback)
}

func (r *Router) runAgent(ctx context.Context, decision *models.Decision) (*models.ExecutionRecord, error) {
	res, err := r.agent.Run(ctx, decision.Goal, decision.Bindings, decision.Sensitive)
	if err != nil {
		return nil, err
	}

	// Both outcomes feed the learning fold: successes build a streak,
	// failures break it. Aborted runs carry no signal.
	if decision.Site != "" && decision.IntentTag != "" &&
		(res.Record.Status == models.ExecutionStatusCompleted || res.Record.Status == models.ExecutionStatusFailed) {
		if err := r.observeAgentRun(ctx, decision.Site, decision.IntentTag, res); err != nil {
			r.logger.Warn("learning observation failed", "execution", res.Record.ID, "error", err)
		}
	}
	return res.Record, nil
}

func (r *Router) recordDecision(ctx context.Context, intent *models.Intent, decision *models.Decision) {
	if r.decisions != nil {
		r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(decision.Kind))))
	}
	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Kind:       models.AuditKindRouteDecision,
		WorkflowID: decision.WorkflowID,
		Version:    decision.Version,
		Site:       intent.Site,
		IntentTag:  intent.IntentTag,
		Detail: map[string]string{
			"strategy":   string(decision.Kind),
			"confidence": fmt.Sprintf("%.2f", decision.Confidence),
			"reason":     decision.Reason,
		},
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append routing audit entry", "error", err)
	}
}

// resolvable reports whether all required variables of the spec are bound or
// defaultable, and whether the blocker is a sensitive variable.
func resolvable(spec *models.WorkflowSpec, bindings map[string]string) (bool, bool) {
	for name, def := range spec.Variables {
		if !def.Required {
			continue
		}
		if v, ok := bindings[name]; ok && v != "" {
			continue
		}
		if def.Default != "" {
			continue
		}
		return false, def.Sensitive
	}
	return true, false
}

// sensitiveVars collects the variable names any of the specs flag sensitive,
// so the agent path can mask them the same way the engine does.
func sensitiveVars(specs []*models.WorkflowSpec) map[string]bool {
	var names map[string]bool
	for _, spec := range specs {
		for name, def := range spec.Variables {
			if def.Sensitive {
				if names == nil {
					names = make(map[string]bool)
				}
				names[name] = true
			}
		}
	}
	return names
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
