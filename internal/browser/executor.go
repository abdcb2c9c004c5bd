// Package browser provides the action-executor capability: a session-scoped
// client for the browser-driving sidecar that performs navigate/click/type/
// extract primitives and reports observations.
package browser

import (
	"context"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

// Action is one browser primitive to perform.
type Action struct {
	Kind     models.StepKind `json:"kind"`
	Selector string          `json:"selector,omitempty"`
	Input    string          `json:"input,omitempty"`
}

// Observation is the outcome of one performed action.
type Observation struct {
	Success        bool   `json:"success"`
	ExtractedValue string `json:"extracted_value,omitempty"`
	DOMSnapshot    string `json:"dom_snapshot,omitempty"`
	Screenshot     []byte `json:"screenshot,omitempty"`
	Error          string `json:"error,omitempty"`
	// SelectorMissing is set when the target could not be located at all,
	// as opposed to an action that found its target and then failed.
	SelectorMissing bool `json:"selector_missing,omitempty"`
}

// Session is one exclusive browser context. A session belongs to exactly one
// execution and must be closed on every exit path.
type Session interface {
	Perform(ctx context.Context, action Action) (*Observation, error)
	// Snapshot captures the current DOM and a screenshot without acting.
	Snapshot(ctx context.Context) (*Observation, error)
	Close(ctx context.Context) error
}

// Executor opens browser sessions. Implementations wrap whatever engine
// actually drives the browser; the engine and agent only see this interface.
type Executor interface {
	OpenSession(ctx context.Context) (Session, error)
}
