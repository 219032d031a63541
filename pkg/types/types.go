// Package types defines the shared types used across all LingoLive packages.
//
// These types form the lingua franca between the transcription engine client,
// the token reconciliation state machine, the real-time fan-out layer, and the
// transcript store. Each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package types

import "time"

// TranslationMode selects how a session translates speech.
type TranslationMode string

const (
	// ModeOneWay translates all speech into a single fixed target language.
	ModeOneWay TranslationMode = "one_way"

	// ModeTwoWay translates speech in either of two configured languages into
	// the other, determined per-utterance by the detected source language.
	ModeTwoWay TranslationMode = "two_way"
)

// IsValid reports whether m is a recognised translation mode.
func (m TranslationMode) IsValid() bool {
	return m == ModeOneWay || m == ModeTwoWay
}

// TranslationConfig describes the translation behaviour of one session.
// Exactly one of TargetLanguage or the LanguageA/LanguageB pair is populated,
// matching Mode.
type TranslationConfig struct {
	Mode TranslationMode

	// TargetLanguage is the fixed target for ModeOneWay sessions.
	TargetLanguage string

	// LanguageA and LanguageB are the unordered language pair for ModeTwoWay
	// sessions.
	LanguageA string
	LanguageB string
}

// TargetFor returns the target language for an utterance detected in
// sourceLanguage. For ModeOneWay this is always the configured target;
// for ModeTwoWay it is whichever configured language the source is not.
func (c TranslationConfig) TargetFor(sourceLanguage string) string {
	switch c.Mode {
	case ModeOneWay:
		return c.TargetLanguage
	case ModeTwoWay:
		if sourceLanguage == c.LanguageA {
			return c.LanguageB
		}
		return c.LanguageA
	}
	return ""
}

// TranslationExpected reports whether a finalized original-only utterance in
// sourceLanguage should wait for an asynchronously delivered translation batch.
// In two-way mode every utterance is translated; in one-way mode a translation
// only arrives when the speaker is not already speaking the target language.
func (c TranslationConfig) TranslationExpected(sourceLanguage string) bool {
	switch c.Mode {
	case ModeOneWay:
		return sourceLanguage != c.TargetLanguage
	case ModeTwoWay:
		return true
	}
	return false
}

// TokenStatus tags a token as transcription output or translation output.
type TokenStatus string

const (
	// StatusTranscription marks a token as original-language text.
	StatusTranscription TokenStatus = "transcription"

	// StatusTranslation marks a token as translated text.
	StatusTranslation TokenStatus = "translation"
)

// Token is a single text fragment emitted by the transcription engine.
// The engine delivers tokens in ordered, append-only batches; a final token
// is never revised, a non-final token is a revisable streaming preview.
type Token struct {
	// Text is the token's text fragment. Tokens concatenate without separators;
	// the engine includes leading whitespace where needed.
	Text string

	// IsFinal indicates whether the engine guarantees this token will not be
	// revised further.
	IsFinal bool

	// Status partitions tokens into original-language and translated groups.
	// Any value other than StatusTranslation is treated as original-language
	// output, so unknown future tags degrade safely.
	Status TokenStatus

	// Language is the token's language code as detected or produced by the
	// engine. May be empty on punctuation-only tokens.
	Language string
}

// IsTranslation reports whether t carries translated rather than original text.
func (t Token) IsTranslation() bool { return t.Status == StatusTranslation }

// PreviewEvent is an ephemeral streaming preview for one participant. It is
// broadcast over the session's fan-out channel and never persisted; each new
// event for a participant replaces the previous one.
type PreviewEvent struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Text            string `json:"text"`
	TranslatedText  string `json:"translated_text,omitempty"`
	SourceLanguage  string `json:"source_language,omitempty"`
	TargetLanguage  string `json:"target_language,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// FinalUtterance is a finalized-transcript-ready event emitted by the token
// reconciliation state machine once an utterance segment and (if expected) its
// translation have both arrived.
type FinalUtterance struct {
	OriginalText   string
	TranslatedText string
	SourceLanguage string
	TargetLanguage string
}

// MergedContext is the single bounded vocabulary configuration computed from
// all context sets attached to a session. It biases the transcription engine
// towards domain terms and forced translations. The consuming engine treats
// absent and empty fields differently, so empty collections are omitted from
// the JSON encoding entirely.
type MergedContext struct {
	Terms            []string          `json:"terms,omitempty"`
	General          []GeneralPair     `json:"general,omitempty"`
	Text             string            `json:"text,omitempty"`
	TranslationTerms []TranslationTerm `json:"translation_terms,omitempty"`
}

// IsEmpty reports whether the merged context carries no configuration at all.
func (m MergedContext) IsEmpty() bool {
	return len(m.Terms) == 0 && len(m.General) == 0 && m.Text == "" && len(m.TranslationTerms) == 0
}

// GeneralPair is a key-value metadata hint inside a context configuration.
type GeneralPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TranslationTerm is a forced source→target translation pair inside a context
// configuration.
type TranslationTerm struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Transcript is the durable record of one finalized utterance segment.
// Rows are immutable after creation and ordered within a session by the
// strictly increasing Sequence assigned at append time.
type Transcript struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	ParticipantID   string    `json:"participant_id,omitempty"`
	ParticipantName string    `json:"participant_name"`
	OriginalText    string    `json:"original_text"`
	TranslatedText  string    `json:"translated_text,omitempty"`
	SourceLanguage  string    `json:"source_language,omitempty"`
	TargetLanguage  string    `json:"target_language,omitempty"`
	Sequence        int64     `json:"sequence_number"`
	CreatedAt       time.Time `json:"created_at"`
}
