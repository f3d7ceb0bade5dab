package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallAttempt records one placed call. Immutable once the outcome is set; a
// lead owns many attempts ordered by AttemptNumber with no gaps.
type CallAttempt struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	CampaignID      uuid.UUID
	VariantID       uuid.UUID // uuid.Nil when the call ran unpartitioned
	AttemptNumber   int
	StartedAt       time.Time
	Outcome         Outcome
	DurationSeconds int
	TerminalNode    string // funnel node the outcome routed to, for auditing
}
