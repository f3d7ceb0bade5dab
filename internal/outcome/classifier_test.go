package outcome

import (
	"testing"

	"github.com/acme/voice-dispatch/internal/domain"
)

func TestClassifyKnownCodes(t *testing.T) {
	cases := map[string]domain.Outcome{
		"answered_consent":  domain.OutcomeSuccessConsent,
		"answered":          domain.OutcomeSuccessNoConsent,
		"refused":           domain.OutcomeRefusal,
		"no_answer":         domain.OutcomeNoAnswer,
		"busy":              domain.OutcomeBusy,
		"voicemail":         domain.OutcomeVoicemail,
		"blacklisted":       domain.OutcomeBlacklisted,
		"ANSWERED_CONSENT":  domain.OutcomeSuccessConsent,
		"  ring_timeout  ":  domain.OutcomeNoAnswer,
		"answering_machine": domain.OutcomeVoicemail,
	}

	for raw, want := range cases {
		if got := Classify(raw); got != want {
			t.Errorf("Classify(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestClassifyUnknownCodesMapToInvalidNumber(t *testing.T) {
	for _, raw := range []string{"", "garbage", "sip-503", "unknown_code"} {
		if got := Classify(raw); got != domain.OutcomeInvalidNumber {
			t.Errorf("Classify(%q) = %q, want invalid_number", raw, got)
		}
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	for _, raw := range []string{"answered", "busy", "weird"} {
		first := Classify(raw)
		second := Classify(raw)
		if first != second {
			t.Fatalf("Classify(%q) not stable: %q vs %q", raw, first, second)
		}
	}
}
