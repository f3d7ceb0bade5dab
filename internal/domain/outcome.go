package domain

// Outcome is the canonical classification of a finished call. Outcomes are
// business results, not errors; every finished attempt carries exactly one.
type Outcome string

const (
	OutcomeSuccessConsent   Outcome = "success_consent"
	OutcomeSuccessNoConsent Outcome = "success_no_consent"
	OutcomeRefusal          Outcome = "refusal"
	OutcomeNoAnswer         Outcome = "no_answer"
	OutcomeBusy             Outcome = "busy"
	OutcomeVoicemail        Outcome = "voicemail"
	OutcomeInvalidNumber    Outcome = "invalid_number"
	OutcomeBlacklisted      Outcome = "blacklisted"
)

// Success reports whether the outcome counts as a conversion.
func (o Outcome) Success() bool {
	return o == OutcomeSuccessConsent || o == OutcomeSuccessNoConsent
}

// Retryable reports whether the outcome may re-enter the queue. Refusals and
// bad numbers are terminal regardless of remaining attempts.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeNoAnswer, OutcomeBusy, OutcomeVoicemail:
		return true
	}
	return false
}
