// Package funnel evaluates a campaign's condition/action graph against a call
// outcome and routes it to downstream actions. Graphs are validated once at
// load time so traversal can assume resolvable edges and termination.
package funnel

import (
	"fmt"

	"github.com/acme/voice-dispatch/internal/domain"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
)

// ErrorNodeID is the terminal pseudo-node reached when a condition matches no
// branch and the node has no fallback edge. It is not part of the arena.
const ErrorNodeID = "__error__"

// Graph is a validated funnel graph: an arena of nodes addressed by id.
type Graph struct {
	nodes map[string]*domain.FunnelNode
	start string
}

// Load validates the raw graph and returns a traversable Graph. Violations
// wrap ErrInvalidFunnelGraph: zero or multiple start nodes, unresolvable
// edges, invalid operators or fields, and cycles are all rejected here so
// they never surface mid-dispatch.
func Load(raw domain.FunnelGraph) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*domain.FunnelNode, len(raw.Nodes))}

	for i := range raw.Nodes {
		n := &raw.Nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has empty id", apperrors.ErrInvalidFunnelGraph, i)
		}
		if n.ID == ErrorNodeID {
			return nil, fmt.Errorf("%w: node id %q is reserved", apperrors.ErrInvalidFunnelGraph, n.ID)
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", apperrors.ErrInvalidFunnelGraph, n.ID)
		}
		g.nodes[n.ID] = n

		if n.Kind == domain.FunnelNodeStart {
			if g.start != "" {
				return nil, fmt.Errorf("%w: multiple start nodes (%q, %q)", apperrors.ErrInvalidFunnelGraph, g.start, n.ID)
			}
			g.start = n.ID
		}
	}

	if g.start == "" {
		return nil, fmt.Errorf("%w: no start node", apperrors.ErrInvalidFunnelGraph)
	}

	for _, n := range g.nodes {
		if err := g.validateNode(n); err != nil {
			return nil, err
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// Start returns the id of the single start node.
func (g *Graph) Start() string {
	return g.start
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *domain.FunnelNode {
	return g.nodes[id]
}

func (g *Graph) validateNode(n *domain.FunnelNode) error {
	switch n.Kind {
	case domain.FunnelNodeStart:
		if n.Next == "" {
			return fmt.Errorf("%w: start node %q has no successor", apperrors.ErrInvalidFunnelGraph, n.ID)
		}
		return g.resolvable(n.ID, n.Next)
	case domain.FunnelNodeCondition:
		if len(n.Branches) == 0 && n.Fallback == "" {
			return fmt.Errorf("%w: condition node %q has no branches", apperrors.ErrInvalidFunnelGraph, n.ID)
		}
		for _, b := range n.Branches {
			if !validOperator(b.Operator) {
				return fmt.Errorf("%w: node %q uses unknown operator %q", apperrors.ErrInvalidFunnelGraph, n.ID, b.Operator)
			}
			if !validField(b.Field) {
				return fmt.Errorf("%w: node %q uses unknown field %q", apperrors.ErrInvalidFunnelGraph, n.ID, b.Field)
			}
			if err := g.resolvable(n.ID, b.NextNodeID); err != nil {
				return err
			}
		}
		if n.Fallback != "" {
			return g.resolvable(n.ID, n.Fallback)
		}
		return nil
	case domain.FunnelNodeAction:
		if n.Next == "" {
			return fmt.Errorf("%w: action node %q has no successor", apperrors.ErrInvalidFunnelGraph, n.ID)
		}
		return g.resolvable(n.ID, n.Next)
	case domain.FunnelNodeEnd:
		return nil
	default:
		return fmt.Errorf("%w: node %q has unknown kind %q", apperrors.ErrInvalidFunnelGraph, n.ID, n.Kind)
	}
}

func (g *Graph) resolvable(from, to string) error {
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: node %q targets non-existent node %q", apperrors.ErrInvalidFunnelGraph, from, to)
	}
	return nil
}

// checkAcyclic rejects any cycle via three-color DFS from the start node.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range g.successors(id) {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: cycle through node %q", apperrors.ErrInvalidFunnelGraph, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	return visit(g.start)
}

func (g *Graph) successors(id string) []string {
	n := g.nodes[id]
	var out []string
	if n.Next != "" {
		out = append(out, n.Next)
	}
	for _, b := range n.Branches {
		out = append(out, b.NextNodeID)
	}
	if n.Fallback != "" {
		out = append(out, n.Fallback)
	}
	return out
}

func validOperator(op domain.ConditionOperator) bool {
	switch op {
	case domain.OpEquals, domain.OpNotEquals, domain.OpContains, domain.OpGreaterThan, domain.OpLessThan:
		return true
	}
	return false
}

func validField(f domain.ConditionField) bool {
	switch f {
	case domain.FieldOutcome, domain.FieldAttemptCount, domain.FieldConsentSMS, domain.FieldLeadStatus, domain.FieldTags:
		return true
	}
	return false
}
