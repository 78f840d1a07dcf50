package privacy

import (
	"regexp"

	"github.com/parlo-app/parlo/internal/transcript"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns. Learners blurt out real
// contact details mid-practice; the live view shows them, the durable
// transcript must not.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone so card numbers are not classified
	// as phone numbers.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactTurns returns a copy of turns with PII masked in every turn's text.
func RedactTurns(turns []transcript.Turn) []transcript.Turn {
	out := make([]transcript.Turn, len(turns))
	copy(out, turns)
	for i := range out {
		out[i].Text, _ = RedactPII(out[i].Text)
	}
	return out
}
