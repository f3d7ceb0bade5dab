// Package outcome maps raw dialer result codes onto the canonical Outcome
// enum. Classification is a pure, total function: every raw code maps to
// exactly one outcome so downstream routing never blocks on an unknown value.
package outcome

import (
	"strings"

	"github.com/acme/voice-dispatch/internal/domain"
)

// Classify maps a raw dialer result code to a canonical outcome. Unrecognized
// codes classify as invalid_number rather than failing.
func Classify(raw string) domain.Outcome {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "answered_consent", "success_consent", "agreed_sms":
		return domain.OutcomeSuccessConsent
	case "answered", "success", "completed", "answered_no_consent":
		return domain.OutcomeSuccessNoConsent
	case "refused", "refusal", "rejected", "do_not_call":
		return domain.OutcomeRefusal
	case "no_answer", "noanswer", "timeout", "ring_timeout":
		return domain.OutcomeNoAnswer
	case "busy", "user_busy":
		return domain.OutcomeBusy
	case "voicemail", "answering_machine", "machine":
		return domain.OutcomeVoicemail
	case "blacklisted", "blocked":
		return domain.OutcomeBlacklisted
	default:
		return domain.OutcomeInvalidNumber
	}
}
