package funnel

import (
	"errors"
	"testing"

	"github.com/acme/voice-dispatch/internal/domain"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
)

func validGraph() domain.FunnelGraph {
	return domain.FunnelGraph{
		Nodes: []domain.FunnelNode{
			{ID: "start", Kind: domain.FunnelNodeStart, Next: "route"},
			{ID: "route", Kind: domain.FunnelNodeCondition, Branches: []domain.FunnelBranch{
				{Field: domain.FieldOutcome, Operator: domain.OpEquals, Value: "success_consent", NextNodeID: "send_sms"},
			}, Fallback: "done"},
			{ID: "send_sms", Kind: domain.FunnelNodeAction, Actions: []domain.FunnelAction{
				{Type: domain.ActionSMS, Config: map[string]string{"template": "welcome"}},
			}, Next: "done"},
			{ID: "done", Kind: domain.FunnelNodeEnd},
		},
	}
}

func TestLoadValidGraph(t *testing.T) {
	g, err := Load(validGraph())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Start() != "start" {
		t.Errorf("start = %q", g.Start())
	}
}

func TestLoadRejectsMissingStart(t *testing.T) {
	raw := validGraph()
	raw.Nodes = raw.Nodes[1:]
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected ErrInvalidFunnelGraph, got %v", err)
	}
}

func TestLoadRejectsMultipleStarts(t *testing.T) {
	raw := validGraph()
	raw.Nodes = append(raw.Nodes, domain.FunnelNode{ID: "start2", Kind: domain.FunnelNodeStart, Next: "done"})
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected ErrInvalidFunnelGraph, got %v", err)
	}
}

func TestLoadRejectsDanglingEdge(t *testing.T) {
	raw := validGraph()
	raw.Nodes[1].Branches[0].NextNodeID = "nowhere"
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected ErrInvalidFunnelGraph, got %v", err)
	}
}

func TestLoadRejectsCycle(t *testing.T) {
	raw := domain.FunnelGraph{
		Nodes: []domain.FunnelNode{
			{ID: "start", Kind: domain.FunnelNodeStart, Next: "a"},
			{ID: "a", Kind: domain.FunnelNodeCondition, Branches: []domain.FunnelBranch{
				{Field: domain.FieldOutcome, Operator: domain.OpEquals, Value: "busy", NextNodeID: "b"},
			}, Fallback: "end"},
			{ID: "b", Kind: domain.FunnelNodeCondition, Branches: []domain.FunnelBranch{
				{Field: domain.FieldOutcome, Operator: domain.OpEquals, Value: "busy", NextNodeID: "a"},
			}, Fallback: "end"},
			{ID: "end", Kind: domain.FunnelNodeEnd},
		},
	}
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestLoadRejectsUnknownOperator(t *testing.T) {
	raw := validGraph()
	raw.Nodes[1].Branches[0].Operator = "matches_regex"
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected operator rejection, got %v", err)
	}
}

func TestLoadRejectsReservedNodeID(t *testing.T) {
	raw := validGraph()
	raw.Nodes[3].ID = ErrorNodeID
	if _, err := Load(raw); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected reserved id rejection, got %v", err)
	}
}
