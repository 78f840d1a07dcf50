package recap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/parlo-app/parlo/internal/persona"
	"github.com/parlo-app/parlo/internal/transcript"
)

// LocalGenerator is the fallback recap generator used when no recap service
// is configured. It builds a deterministic heuristic debrief from the
// transcript alone.
type LocalGenerator struct{}

func NewLocalGenerator() *LocalGenerator { return &LocalGenerator{} }

const localVocabularyLimit = 5

func (g *LocalGenerator) Generate(_ context.Context, turns []transcript.Turn, ref persona.Ref) (Result, error) {
	userTurns := 0
	assistantTurns := 0
	var userWords []string
	for _, t := range turns {
		switch t.Speaker {
		case transcript.SpeakerUserSpoken, transcript.SpeakerUserTyped:
			userTurns++
			userWords = append(userWords, strings.Fields(t.Text)...)
		case transcript.SpeakerAssistant:
			assistantTurns++
		}
	}

	result := Result{
		Summary: fmt.Sprintf(
			"You practiced %s with %s: %d of your turns, %d replies.",
			ref.Language, ref.DisplayName, userTurns, assistantTurns,
		),
		Vocabulary:    vocabularyFromWords(userWords),
		Encouragement: "Nice work showing up to practice. Consistency is what builds fluency.",
	}
	if userTurns > 0 && assistantTurns == 0 {
		result.ImprovementNotes = append(result.ImprovementNotes,
			"The tutor never got a full reply in; try pausing longer between sentences.")
	}
	if userTurns < 3 {
		result.ImprovementNotes = append(result.ImprovementNotes,
			"Short session. Aim for a few more exchanges to get corrections flowing.")
	}
	return result, nil
}

// vocabularyFromWords picks the longest distinct words the learner used, a
// rough stand-in for "interesting vocabulary" without a model call.
func vocabularyFromWords(words []string) []VocabularyItem {
	seen := map[string]bool{}
	var candidates []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r)
		}))
		if len([]rune(w)) < 5 || seen[w] {
			continue
		}
		seen[w] = true
		candidates = append(candidates, w)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) > len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > localVocabularyLimit {
		candidates = candidates[:localVocabularyLimit]
	}
	out := make([]VocabularyItem, 0, len(candidates))
	for _, w := range candidates {
		out = append(out, VocabularyItem{Term: w, Note: "used during this session"})
	}
	return out
}
