package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kspranav-az/automation-agent/internal/agent"
	"github.com/kspranav-az/automation-agent/pkg/models"
)

// observeAgentRun appends the run's trace to the audit log and folds the
// recent trace events to decide whether a draft workflow should be
// synthesized. The audit log is the only state the fold reads, so concurrent
// agent runs cannot race on a counter: the fold is a pure function of the
// event sequence.
func (r *Router) observeAgentRun(ctx context.Context, site, intentTag string, res *agent.Result) error {
	fingerprint := traceFingerprint(res.Trace)
	traceJSON, err := json.Marshal(res.Trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	entry := &models.AuditEntry{
		ID:          uuid.New().String(),
		Kind:        models.AuditKindAgentTrace,
		ExecutionID: res.Record.ID,
		Site:        site,
		IntentTag:   intentTag,
		Detail: map[string]string{
			"status":      string(res.Record.Status),
			"fingerprint": fingerprint,
			"trace":       string(traceJSON),
		},
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("append trace event: %w", err)
	}

	if res.Record.Status != models.ExecutionStatusCompleted || len(res.Trace) == 0 {
		return nil
	}

	streak, err := r.consecutiveSuccesses(ctx, site, intentTag, fingerprint)
	if err != nil {
		return err
	}
	if streak < r.learnThreshold {
		r.logger.Debug("agent trace observed", "site", site, "intent", intentTag, "streak", streak)
		return nil
	}
	return r.synthesizeDraft(ctx, site, intentTag, fingerprint, res.Trace)
}

// consecutiveSuccesses counts the trailing run of successful agent traces
// with the given fingerprint for (site, intentTag). Any other trace for the
// same pair breaks the streak.
func (r *Router) consecutiveSuccesses(ctx context.Context, site, intentTag, fingerprint string) (int, error) {
	entries, err := r.audit.Query(ctx, models.AuditFilter{
		Kind:      models.AuditKindAgentTrace,
		Site:      site,
		IntentTag: intentTag,
		Limit:     r.learnThreshold,
	})
	if err != nil {
		return 0, fmt.Errorf("query trace events: %w", err)
	}

	streak := 0
	for _, entry := range entries { // newest first
		if entry.Detail["fingerprint"] != fingerprint || entry.Detail["status"] != string(models.ExecutionStatusCompleted) {
			break
		}
		streak++
	}
	return streak, nil
}

// synthesizeDraft publishes a draft workflow candidate built from the agent
// trace. At most one candidate is emitted per fingerprint; the draft still
// needs human approval before the router will ever select it.
func (r *Router) synthesizeDraft(ctx context.Context, site, intentTag, fingerprint string, trace []agent.TraceStep) error {
	exists, err := r.workflows.HasDraftFor(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("check existing draft: %w", err)
	}
	if exists {
		return nil
	}

	steps := make([]models.Step, len(trace))
	for i, t := range trace {
		steps[i] = models.Step{
			Position: i + 1,
			Kind:     t.Kind,
			Selector: models.Selector{Value: t.Selector, Confidence: 0.5, VerifiedAt: time.Now()},
			Input:    t.Input,
		}
	}

	draft := &models.WorkflowSpec{
		ID:               uuid.New().String(),
		WorkflowID:       uuid.New().String(),
		Name:             fmt.Sprintf("%s-%s", site, intentTag),
		Site:             site,
		IntentTag:        intentTag,
		Status:           models.WorkflowStatusDraft,
		Steps:            steps,
		CreatedBy:        "learning-loop",
		TraceFingerprint: fingerprint,
	}
	version, err := r.workflows.Publish(ctx, draft)
	if err != nil {
		return fmt.Errorf("publish draft candidate: %w", err)
	}

	entry := &models.AuditEntry{
		ID:         uuid.New().String(),
		Kind:       models.AuditKindCandidateDraft,
		WorkflowID: draft.WorkflowID,
		Version:    version,
		Site:       site,
		IntentTag:  intentTag,
		Detail:     map[string]string{"fingerprint": fingerprint, "steps": fmt.Sprintf("%d", len(steps))},
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		r.logger.Error("failed to append candidate audit entry", "error", err)
	}
	r.logger.Info("synthesized draft workflow from agent trace",
		"workflow", draft.WorkflowID, "site", site, "intent", intentTag)
	return nil
}

// traceFingerprint derives the stable identity of a step trace.
func traceFingerprint(trace []agent.TraceStep) string {
	h := sha256.New()
	for _, t := range trace {
		fmt.Fprintf(h, "%s|%s|%s\n", t.Kind, t.Selector, t.Input)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
