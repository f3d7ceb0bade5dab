package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueItemState enumerates dispatch states of a queue item.
type QueueItemState string

const (
	QueueItemWaiting   QueueItemState = "waiting"
	QueueItemActive    QueueItemState = "active"
	QueueItemCompleted QueueItemState = "completed"
	// QueueItemError marks a transport failure awaiting operator action.
	// No attempt was consumed; the item is never auto-retried.
	QueueItemError QueueItemState = "error"
)

// QueueItem is the ephemeral projection of a lead eligible for dispatch. It
// exists only inside the dispatch queue.
type QueueItem struct {
	LeadID        uuid.UUID      `json:"lead_id"`
	CampaignID    uuid.UUID      `json:"campaign_id"`
	Phone         string         `json:"phone"`
	State         QueueItemState `json:"state"`
	PriorityScore int            `json:"priority_score"`
	AttemptNumber int            `json:"attempt_number"` // number of the next attempt
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Seq           uint64         `json:"-"` // insertion order, final tie-break
	LastError     string         `json:"last_error,omitempty"`
}
