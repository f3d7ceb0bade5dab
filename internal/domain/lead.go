package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates lifecycle states of a lead. Leads are never deleted,
// only transitioned to a terminal status.
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusInQueue     LeadStatus = "in_queue"
	LeadStatusDone        LeadStatus = "done"
	LeadStatusExhausted   LeadStatus = "exhausted"
	LeadStatusBlacklisted LeadStatus = "blacklisted"
)

// Terminal reports whether the status accepts no further transitions.
func (s LeadStatus) Terminal() bool {
	switch s {
	case LeadStatusDone, LeadStatusExhausted, LeadStatusBlacklisted:
		return true
	}
	return false
}

// Lead is a single callable contact within a campaign.
type Lead struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	Phone         string
	Status        LeadStatus
	ConsentSMS    bool
	AttemptCount  int
	NextAttemptAt *time.Time
	Tags          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
