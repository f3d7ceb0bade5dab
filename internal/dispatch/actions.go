package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/dialer"
	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/repository"
)

// ActionExecutor routes funnel actions to the external gateways. Failures are
// returned to the funnel engine, which records them and keeps traversing.
type ActionExecutor struct {
	sms   dialer.SMSGateway
	crm   dialer.CRMHandoff
	leads repository.LeadRepository
}

// NewActionExecutor wires the gateway collaborators.
func NewActionExecutor(sms dialer.SMSGateway, crm dialer.CRMHandoff, leads repository.LeadRepository) *ActionExecutor {
	return &ActionExecutor{sms: sms, crm: crm, leads: leads}
}

// Execute runs one funnel action for the lead.
func (e *ActionExecutor) Execute(ctx context.Context, action domain.FunnelAction, leadID string) error {
	id, err := uuid.Parse(leadID)
	if err != nil {
		return fmt.Errorf("action executor: bad lead id %q: %w", leadID, err)
	}

	switch action.Type {
	case domain.ActionSMS:
		template := action.Config["template"]
		vars := make(map[string]string, len(action.Config))
		for k, v := range action.Config {
			if k != "template" {
				vars[k] = v
			}
		}
		if err := e.sms.Send(ctx, id, template, vars); err != nil {
			return fmt.Errorf("action executor: sms send: %w", err)
		}
		return nil
	case domain.ActionCRM:
		if err := e.crm.CreateRecord(ctx, id, action.Config["reason"], action.Config); err != nil {
			return fmt.Errorf("action executor: crm handoff: %w", err)
		}
		return nil
	case domain.ActionBlacklist:
		lead, err := e.leads.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("action executor: load lead: %w", err)
		}
		lead.Status = domain.LeadStatusBlacklisted
		if err := e.leads.Update(ctx, lead); err != nil {
			return fmt.Errorf("action executor: blacklist lead: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("action executor: unknown action type %q", action.Type)
	}
}
