package models

// Intent is the structured form of a natural-language prompt.
type Intent struct {
	Site      string            `json:"site"`
	IntentTag string            `json:"intent_tag"`
	Variables map[string]string `json:"variables,omitempty"`
}

// DecisionKind is the routing strategy chosen for a prompt.
type DecisionKind string

const (
	DecisionUseWorkflow DecisionKind = "use_workflow"
	DecisionUseAgent    DecisionKind = "use_agent"
)

// Decision is the router's verdict for one prompt. For UseWorkflow the
// workflow identifier and version are set; for UseAgent the goal carries the
// task handed to the adaptive agent. Sensitive names the bound variables the
// matched workflow definitions flag sensitive; those values must only ever be
// persisted in masked form.
type Decision struct {
	Kind       DecisionKind      `json:"kind"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Version    int               `json:"version,omitempty"`
	Goal       string            `json:"goal,omitempty"`
	Site       string            `json:"site,omitempty"`
	IntentTag  string            `json:"intent_tag,omitempty"`
	Bindings   map[string]string `json:"bindings,omitempty"`
	Sensitive  map[string]bool   `json:"sensitive,omitempty"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason,omitempty"`
}
