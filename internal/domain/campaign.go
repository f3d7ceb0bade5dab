package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignState enumerates lifecycle states of a campaign.
type CampaignState string

const (
	CampaignStateDraft     CampaignState = "draft"
	CampaignStateActive    CampaignState = "active"
	CampaignStatePaused    CampaignState = "paused"
	CampaignStateCompleted CampaignState = "completed"
)

// Campaign models an outbound voice campaign definition. A campaign owns at
// most one experiment and a funnel graph; both are validated before the
// campaign may go active.
type Campaign struct {
	ID                   uuid.UUID
	Name                 string
	Priority             int // 1..10, feeds the queue priority score
	MaxConcurrency       int
	MaxAttempts          int
	RetryIntervalMinutes int
	DialTimeout          time.Duration
	ScriptRef            string
	TimeZone             string
	BusinessHours        []BusinessHourWindow
	State                CampaignState
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// RetryInterval returns the configured flat retry interval as a duration.
func (c *Campaign) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMinutes) * time.Minute
}

// BusinessHourWindow captures an allowed calling window per day of week.
// Windows whose end is not after their start span midnight into the next day.
type BusinessHourWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// CampaignStats aggregates campaign-level counters.
type CampaignStats struct {
	TotalCalls       int64 `db:"total_calls" json:"total_calls"`
	CompletedCalls   int64 `db:"completed_calls" json:"completed_calls"`
	FailedCalls      int64 `db:"failed_calls" json:"failed_calls"`
	RetriesScheduled int64 `db:"retries_scheduled" json:"retries_scheduled"`
	TransportErrors  int64 `db:"transport_errors" json:"transport_errors"`
}
