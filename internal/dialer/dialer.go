// Package dialer defines the external collaborator contracts of the engine:
// the telephony bridge, the SMS gateway and the CRM handoff. The core never
// speaks SIP or SMPP itself; it only consumes these narrow interfaces.
package dialer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Call is the dial request handed to the telephony bridge.
type Call struct {
	LeadID     uuid.UUID
	CampaignID uuid.UUID
	Phone      string
	ScriptRef  string
	VariantID  uuid.UUID
	Attempt    int
}

// Result is the raw, unclassified outcome of a placed call. RawCode is
// provider-specific and goes through the outcome classifier.
type Result struct {
	RawCode  string
	Duration time.Duration
}

// Dialer places outbound calls. Implementations must honor the deadline on
// ctx; a blocked provider suspends only the calling worker.
type Dialer interface {
	Place(ctx context.Context, call Call) (Result, error)
}

// SMSGateway delivers funnel-triggered text messages.
type SMSGateway interface {
	Send(ctx context.Context, leadID uuid.UUID, templateID string, variables map[string]string) error
}

// CRMHandoff pushes a lead into the downstream CRM.
type CRMHandoff interface {
	CreateRecord(ctx context.Context, leadID uuid.UUID, reason string, payload map[string]string) error
}
