package persona

import "strings"

// Ref is a read-only snapshot of a conversational persona's profile. The
// persona catalog itself is owned outside the voice core; a session keeps
// this snapshot for the channel and the recap generator.
type Ref struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"display_name"`
	Language     string  `json:"language"`
	VoiceID      string  `json:"voice_id"`
	SpeakingRate float64 `json:"speaking_rate"`
	Style        string  `json:"style"`
}

// DefaultProfiles returns the built-in tutor personas.
func DefaultProfiles() map[string]Ref {
	return map[string]Ref{
		"amelie": {
			ID:           "amelie",
			DisplayName:  "Amélie",
			Language:     "fr-FR",
			VoiceID:      "fr_warm_f1",
			SpeakingRate: 0.92,
			Style:        "patient, encouraging, gently corrective",
		},
		"diego": {
			ID:           "diego",
			DisplayName:  "Diego",
			Language:     "es-MX",
			VoiceID:      "es_casual_m1",
			SpeakingRate: 0.97,
			Style:        "upbeat, conversational, slang-friendly",
		},
		"hana": {
			ID:           "hana",
			DisplayName:  "Hana",
			Language:     "ja-JP",
			VoiceID:      "ja_clear_f2",
			SpeakingRate: 0.88,
			Style:        "precise, formal, structured",
		},
	}
}

// Lookup resolves a persona id against the built-in catalog, falling back to
// the first profile alphabetically when the id is unknown or blank.
func Lookup(id string) Ref {
	profiles := DefaultProfiles()
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(id))]; ok {
		return p
	}
	return profiles["amelie"]
}
