package domain

// FunnelNodeKind enumerates the node types of a funnel graph.
type FunnelNodeKind string

const (
	FunnelNodeStart     FunnelNodeKind = "start"
	FunnelNodeCondition FunnelNodeKind = "condition"
	FunnelNodeAction    FunnelNodeKind = "action"
	FunnelNodeEnd       FunnelNodeKind = "end"
)

// ConditionField is the closed set of fields a branch may inspect.
type ConditionField string

const (
	FieldOutcome      ConditionField = "outcome"
	FieldAttemptCount ConditionField = "attempt_count"
	FieldConsentSMS   ConditionField = "consent_sms"
	FieldLeadStatus   ConditionField = "lead_status"
	FieldTags         ConditionField = "tags"
)

// ConditionOperator is the closed operator set evaluated over the typed
// funnel context. Anything else fails graph validation.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

// FunnelBranch is one (field, operator, value) edge out of a condition node.
// Branches are evaluated in declaration order, first match wins; tie-breaking
// by order is the graph author's responsibility, not the engine's.
type FunnelBranch struct {
	Field      ConditionField
	Operator   ConditionOperator
	Value      string
	NextNodeID string
}

// ActionType enumerates the side effects an action node may trigger.
type ActionType string

const (
	ActionSMS       ActionType = "sms"
	ActionCRM       ActionType = "crm"
	ActionBlacklist ActionType = "blacklist"
)

// FunnelAction is one side effect attached to an action node.
type FunnelAction struct {
	Type   ActionType
	Config map[string]string
}

// FunnelNode is one node of a campaign's funnel graph, addressed by a stable
// id inside a flat arena rather than nested objects, so the graph can be
// validated for reachability and acyclicity once at load time.
type FunnelNode struct {
	ID       string
	Kind     FunnelNodeKind
	Branches []FunnelBranch // condition nodes only
	Fallback string         // optional explicit no-match edge
	Actions  []FunnelAction // action nodes only
	Next     string         // start and action nodes: single successor
}

// FunnelGraph is the serialized form of a campaign funnel.
type FunnelGraph struct {
	CampaignID string
	Nodes      []FunnelNode
}
