package funnel

import (
	"context"
	"strconv"
	"strings"

	"github.com/acme/voice-dispatch/internal/domain"
)

// Context is the typed evaluation context a run is matched against.
type Context struct {
	Outcome      domain.Outcome
	AttemptCount int
	ConsentSMS   bool
	LeadStatus   domain.LeadStatus
	Tags         []string
}

// ExecutedAction records one action the engine triggered during a run,
// together with the executor error if it failed. Failures never stop
// traversal.
type ExecutedAction struct {
	Action domain.FunnelAction
	Err    error
}

// Result is the output of one traversal: every action executed in order and
// the terminal node reached, for auditing.
type Result struct {
	Executed []ExecutedAction
	Terminal string
}

// Executor runs one funnel action side effect (SMS send, CRM handoff,
// blacklist). Implementations live next to the dispatch engine.
type Executor interface {
	Execute(ctx context.Context, action domain.FunnelAction, leadID string) error
}

// Engine traverses a validated graph for one finished call.
type Engine struct {
	graph    *Graph
	executor Executor
}

// NewEngine binds a validated graph to an action executor.
func NewEngine(graph *Graph, executor Executor) *Engine {
	return &Engine{graph: graph, executor: executor}
}

// Run traverses the graph from the start node under ectx. Condition branches
// are evaluated in declaration order, first match wins; no match follows the
// fallback edge when present, else the run terminates at the error
// pseudo-node. The graph is acyclic by construction so traversal always
// terminates.
func (e *Engine) Run(ctx context.Context, ectx Context, leadID string) Result {
	res := Result{}
	current := e.graph.Start()

	for {
		node := e.graph.Node(current)

		switch node.Kind {
		case domain.FunnelNodeStart:
			current = node.Next
		case domain.FunnelNodeCondition:
			next := e.matchBranch(node, ectx)
			if next == "" {
				res.Terminal = ErrorNodeID
				return res
			}
			current = next
		case domain.FunnelNodeAction:
			for _, action := range node.Actions {
				err := e.executor.Execute(ctx, action, leadID)
				res.Executed = append(res.Executed, ExecutedAction{Action: action, Err: err})
			}
			current = node.Next
		case domain.FunnelNodeEnd:
			res.Terminal = node.ID
			return res
		}
	}
}

func (e *Engine) matchBranch(node *domain.FunnelNode, ectx Context) string {
	for _, b := range node.Branches {
		if evaluate(b, ectx) {
			return b.NextNodeID
		}
	}
	return node.Fallback
}

func evaluate(b domain.FunnelBranch, ectx Context) bool {
	switch b.Field {
	case domain.FieldOutcome:
		return compareString(string(ectx.Outcome), b.Operator, b.Value)
	case domain.FieldLeadStatus:
		return compareString(string(ectx.LeadStatus), b.Operator, b.Value)
	case domain.FieldConsentSMS:
		return compareString(strconv.FormatBool(ectx.ConsentSMS), b.Operator, b.Value)
	case domain.FieldAttemptCount:
		return compareInt(ectx.AttemptCount, b.Operator, b.Value)
	case domain.FieldTags:
		return compareTags(ectx.Tags, b.Operator, b.Value)
	}
	return false
}

func compareString(have string, op domain.ConditionOperator, want string) bool {
	switch op {
	case domain.OpEquals:
		return have == want
	case domain.OpNotEquals:
		return have != want
	case domain.OpContains:
		return strings.Contains(have, want)
	}
	return false
}

func compareInt(have int, op domain.ConditionOperator, raw string) bool {
	want, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	switch op {
	case domain.OpEquals:
		return have == want
	case domain.OpNotEquals:
		return have != want
	case domain.OpGreaterThan:
		return have > want
	case domain.OpLessThan:
		return have < want
	}
	return false
}

func compareTags(tags []string, op domain.ConditionOperator, want string) bool {
	has := false
	for _, t := range tags {
		if t == want {
			has = true
			break
		}
	}
	switch op {
	case domain.OpContains, domain.OpEquals:
		return has
	case domain.OpNotEquals:
		return !has
	}
	return false
}
