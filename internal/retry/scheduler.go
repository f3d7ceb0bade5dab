// Package retry decides whether a finished call re-enters the queue and when.
package retry

import (
	"time"

	"github.com/acme/voice-dispatch/internal/domain"
)

// Decision is the verdict for one finished call.
type Decision struct {
	Retry         bool
	NextAttemptAt time.Time
	Reason        string
}

// Decide applies the campaign retry policy. Only no_answer, busy and
// voicemail are retryable, and only while the lead has attempts left. Backoff
// is linear: the campaign exposes a flat interval, not a multiplier, so the
// delay is interval * attemptCount.
func Decide(lead *domain.Lead, campaign *domain.Campaign, outcome domain.Outcome, now time.Time) Decision {
	if !outcome.Retryable() {
		return Decision{Reason: "outcome " + string(outcome) + " is terminal"}
	}
	if lead.AttemptCount >= campaign.MaxAttempts {
		return Decision{Reason: "max attempts reached"}
	}

	delay := campaign.RetryInterval() * time.Duration(lead.AttemptCount)
	return Decision{
		Retry:         true,
		NextAttemptAt: now.Add(delay),
		Reason:        "retryable outcome " + string(outcome),
	}
}
