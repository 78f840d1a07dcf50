package recap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/transcript"
)

// VocabularyItem is one term worth reviewing after a session.
type VocabularyItem struct {
	Term string `json:"term"`
	Note string `json:"note,omitempty"`
}

// Result is the structured debrief for one completed voice session.
type Result struct {
	Summary          string           `json:"summary"`
	Vocabulary       []VocabularyItem `json:"vocabulary,omitempty"`
	ImprovementNotes []string         `json:"improvement_notes,omitempty"`
	Encouragement    string           `json:"encouragement,omitempty"`

	// Degraded marks a recap produced locally after the generator failed.
	// The raw transcript is always preserved alongside it.
	Degraded      bool   `json:"degraded,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

var ErrMalformedResult = errors.New("recap generator returned malformed result")

// Generator produces a session debrief from a transcript. Calls are
// best-effort: the session layer substitutes a degraded recap on failure and
// never blocks closure on this collaborator.
type Generator interface {
	Generate(ctx context.Context, turns []transcript.Turn, ref persona.Ref) (Result, error)
}

// Minimal is the short-circuit recap for a session that ended with an empty
// transcript. The generator is never invoked for it.
func Minimal(ref persona.Ref) Result {
	return Result{
		Summary:       fmt.Sprintf("No conversation occurred with %s.", ref.DisplayName),
		Encouragement: "Try starting a short conversation next time.",
	}
}

// Degraded preserves a session whose recap generation failed. reason is
// recorded verbatim; the caller persists the raw transcript next to it.
func Degraded(turns []transcript.Turn, reason string) Result {
	return Result{
		Summary:       fmt.Sprintf("Recap unavailable. The conversation had %d turns; the raw transcript is preserved.", len(turns)),
		Degraded:      true,
		FailureReason: strings.TrimSpace(reason),
	}
}

// Validate rejects structurally unusable generator output.
func Validate(r Result) error {
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("%w: empty summary", ErrMalformedResult)
	}
	return nil
}
