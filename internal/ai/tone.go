package ai

import "strings"

// Tone is the voice requested for the suggested replies.
type Tone string

const (
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneCustom       Tone = "custom"
)

// MaxCustomToneLength bounds a free-text tone description.
const MaxCustomToneLength = 100

// ParseTone normalizes s and reports whether it names a known tone.
// An empty string selects casual.
func ParseTone(s string) (Tone, bool) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return ToneCasual, true
	case ToneCasual, ToneFormal, ToneFriendly, ToneProfessional, ToneCustom:
		return t, true
	}
	return "", false
}

// Describe returns the wording used in the prompt.
func (t Tone) Describe(custom string) string {
	if t == ToneCustom {
		if c := strings.TrimSpace(custom); c != "" {
			return c
		}
		return string(ToneCasual)
	}
	return string(t)
}
