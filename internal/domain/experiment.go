package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentStatus enumerates experiment lifecycle states.
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
)

// Experiment is an A/B test owned by exactly one campaign. Variant traffic
// shares must sum to 100; the allocator rejects anything else.
type Experiment struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	Variants        []Variant
	PrimaryMetric   string
	ConfidenceLevel float64 // percentage, e.g. 95
	MinSampleSize   int
	AutoStop        bool
	RampUp          *RampUp
	Status          ExperimentStatus
	WinnerVariantID uuid.UUID // set when auto-stop locks in a winner
	StartedAt       *time.Time
	CreatedAt       time.Time
}

// Control returns the control variant, or nil if none is marked.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// AllocationSum returns the total traffic share across variants.
func (e *Experiment) AllocationSum() int {
	sum := 0
	for _, v := range e.Variants {
		sum += v.TrafficAllocationPercent
	}
	return sum
}

// Confidence returns the confidence level as a fraction in (0, 1).
func (e *Experiment) Confidence() float64 {
	c := e.ConfidenceLevel
	if c > 1 {
		c /= 100
	}
	return c
}

// Variant is one arm of an experiment.
type Variant struct {
	ID                       uuid.UUID
	ExperimentID             uuid.UUID
	Name                     string
	TrafficAllocationPercent int
	IsControl                bool
	ScriptRef                string
}

// RampUp describes the time-varying allocation curve layered on top of the
// fixed split: challenger share grows linearly from StartPercent% of its
// configured split at experiment start to the full split after RampUpDays.
type RampUp struct {
	StartPercent int
	RampUpDays   int
}

// Fraction returns the ramp multiplier in [StartPercent/100, 1] at t given
// the experiment start time.
func (r *RampUp) Fraction(startedAt, t time.Time) float64 {
	if r == nil || r.RampUpDays <= 0 {
		return 1
	}
	start := float64(r.StartPercent) / 100
	if start < 0 {
		start = 0
	}
	if start > 1 {
		start = 1
	}
	elapsed := t.Sub(startedAt)
	total := time.Duration(r.RampUpDays) * 24 * time.Hour
	if elapsed >= total {
		return 1
	}
	if elapsed <= 0 {
		return start
	}
	return start + (1-start)*float64(elapsed)/float64(total)
}

// VariantMetrics holds the monotonically increasing counters for one arm.
// Rates are derived on read, never stored.
type VariantMetrics struct {
	VariantID            uuid.UUID `json:"variant_id"`
	Calls                int64     `json:"calls"`
	Conversions          int64     `json:"conversions"`
	SMSConsents          int64     `json:"sms_consents"`
	TotalDurationSeconds int64     `json:"total_duration_seconds"`
}

// ConversionRate returns conversions/calls, zero when no calls recorded.
func (m VariantMetrics) ConversionRate() float64 {
	if m.Calls == 0 {
		return 0
	}
	return float64(m.Conversions) / float64(m.Calls)
}

// SMSConsentRate returns smsConsents/calls, zero when no calls recorded.
func (m VariantMetrics) SMSConsentRate() float64 {
	if m.Calls == 0 {
		return 0
	}
	return float64(m.SMSConsents) / float64(m.Calls)
}

// SignificanceResult is the outcome of comparing one non-control arm against
// control. Always recomputed from VariantMetrics, never authoritative.
type SignificanceResult struct {
	VariantID     uuid.UUID `json:"variant_id"`
	PValue        float64   `json:"p_value"`
	CILower       float64   `json:"ci_lower"`
	CIUpper       float64   `json:"ci_upper"`
	UpliftPercent float64   `json:"uplift_percent"`
	IsSignificant bool      `json:"is_significant"`
}
