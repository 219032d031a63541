// Package reconcile implements the token reconciliation state machine at the
// core of the LingoLive live pipeline.
//
// The transcription engine delivers an ordered, append-only stream of tokens
// for one speaking participant. Non-final tokens are revisable streaming
// previews; final tokens are authoritative. The engine additionally delivers
// original-language text and its translation in separate asynchronous
// batches, so finalized output must be paired before it can be persisted.
//
// A [Machine] consumes token batches as explicit input events and emits two
// kinds of output:
//
//   - streaming previews ([types.PreviewEvent]) for low-latency fan-out,
//     deduplicated against the previous broadcast;
//   - finalized utterances ([types.FinalUtterance]) once an utterance and,
//     when expected, its translation have both arrived.
//
// A Machine is owned by a single goroutine (the recording pipeline for one
// participant) and is not safe for concurrent use. All transitions are
// synchronous; there are no internal goroutines or timers.
package reconcile

import (
	"strings"
	"time"

	"github.com/lingolive/lingolive/pkg/types"
)

// State is the lifecycle state of a [Machine].
type State int

const (
	// StateIdle means no recording is in progress. Token batches are ignored.
	StateIdle State = iota

	// StateStreaming means the machine is consuming live token batches.
	StateStreaming

	// StateError means the engine stream failed. The machine stops consuming
	// until the next Start; the pipeline surfaces the error to the user.
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// pendingOriginal buffers a finalized original-language segment that is
// waiting for its asynchronously delivered translation batch.
type pendingOriginal struct {
	originalText   string
	sourceLanguage string
	bufferedAt     time.Time
}

// Preview is the machine's current streaming preview, replaced wholesale on
// every non-final batch. It backs the local speaker's own display; remote
// participants see it via the broadcast [types.PreviewEvent].
type Preview struct {
	Text           string
	TranslatedText string
	SourceLanguage string
	TargetLanguage string
}

// Config holds the fixed inputs of one recording run.
type Config struct {
	// ParticipantID and ParticipantName identify the local speaker and are
	// stamped onto every emitted preview event.
	ParticipantID   string
	ParticipantName string

	// Translation is the session's translation configuration. It decides
	// whether a finalized original must wait for a translation counterpart
	// and how the target language is derived.
	Translation types.TranslationConfig

	// Now supplies timestamps for preview events and the pending buffer.
	// Defaults to time.Now; injectable for tests.
	Now func() time.Time
}

// Machine reconciles the engine token stream for one speaking participant.
type Machine struct {
	cfg   Config
	state State
	err   error

	// finals accumulates every final token observed this run; cursor marks
	// how many have been reconciled. Each batch is processed at most once.
	finals []types.Token
	cursor int

	// lastBroadcast is the (text, translatedText) dedup key of the previous
	// preview broadcast. Identical consecutive previews are suppressed to
	// bound network chatter.
	lastBroadcast string

	preview Preview
	pending *pendingOriginal
}

// New creates a Machine in [StateIdle].
func New(cfg Config) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{cfg: cfg, state: StateIdle}
}

// State returns the machine's current lifecycle state.
func (m *Machine) State() State { return m.state }

// Err returns the engine error recorded by [Machine.Fail], or nil.
func (m *Machine) Err() error { return m.err }

// Preview returns the current streaming preview. The recording pipeline
// reads it on teardown to decide whether listeners still display stale text.
func (m *Machine) Preview() Preview { return m.preview }

// Start begins a fresh recording run. All buffers, the finalization cursor,
// and the broadcast dedup key are cleared, so the first batch of the new run
// is processed from index zero rather than appended to stale history.
func (m *Machine) Start() {
	m.state = StateStreaming
	m.err = nil
	m.finals = nil
	m.cursor = 0
	m.lastBroadcast = ""
	m.preview = Preview{}
	m.pending = nil
}

// Stop ends the recording run and returns the machine to [StateIdle].
// Any pending original awaiting its translation is discarded, not flushed;
// an explicit data-loss tradeoff favouring responsiveness over completeness.
func (m *Machine) Stop() {
	m.state = StateIdle
	m.finals = nil
	m.cursor = 0
	m.lastBroadcast = ""
	m.preview = Preview{}
	m.pending = nil
}

// Fail records a transport error from the engine stream and moves the
// machine to [StateError]. Buffered state is discarded as in Stop; the user
// must restart recording manually.
func (m *Machine) Fail(err error) {
	m.Stop()
	m.state = StateError
	m.err = err
}

// HandleNonFinal processes a batch of non-final tokens and returns the
// preview event to broadcast, if any. The preview buffer is replaced, not
// appended: the engine re-sends the full in-progress segment on every batch.
//
// A broadcast is suppressed when the derived (originalText, translatedText)
// tuple is identical to the previously broadcast tuple, or when the original
// text is empty.
func (m *Machine) HandleNonFinal(tokens []types.Token) (types.PreviewEvent, bool) {
	if m.state != StateStreaming || len(tokens) == 0 {
		return types.PreviewEvent{}, false
	}

	text, translated, sourceLanguage := splitBatch(tokens)

	targetLanguage := m.cfg.Translation.TargetFor(sourceLanguage)
	m.preview = Preview{
		Text:           text,
		TranslatedText: translated,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
	}

	// The dedup key is recorded even when the broadcast is skipped for empty
	// text, matching the replace-not-append preview contract.
	key := text + "|" + translated
	if key == m.lastBroadcast {
		return types.PreviewEvent{}, false
	}
	m.lastBroadcast = key

	if text == "" {
		return types.PreviewEvent{}, false
	}

	return types.PreviewEvent{
		ParticipantID:   m.cfg.ParticipantID,
		ParticipantName: m.cfg.ParticipantName,
		Text:            text,
		TranslatedText:  translated,
		SourceLanguage:  sourceLanguage,
		TargetLanguage:  targetLanguage,
		Timestamp:       m.cfg.Now().UnixMilli(),
	}, true
}

// HandleFinal appends a batch of final tokens to the finalization buffer and
// reconciles the newly arrived tokens. It returns the finalized utterance to
// persist, if the batch completed one.
//
// The reconciliation rules, in order:
//
//   - Both original and translated text in the batch: emit immediately,
//     paired.
//   - Original only, translation expected (two-way mode, or one-way with a
//     source different from the target): buffer as the pending original and
//     emit nothing yet.
//   - Original only, no translation expected: emit immediately without
//     translated text.
//   - Translated only: emit paired with the buffered pending original. When
//     no pending original exists the translated text stands in for the
//     original, degraded but non-crashing. The pending buffer is cleared.
//
// A second original-only batch arriving before the first's translation
// overwrites the pending buffer; the eventual translation then pairs with
// the wrong original. This mirrors the upstream product's behaviour under
// rapid consecutive speech and is deliberately left unresolved.
func (m *Machine) HandleFinal(tokens []types.Token) (types.FinalUtterance, bool) {
	if m.state != StateStreaming || len(tokens) == 0 {
		return types.FinalUtterance{}, false
	}

	m.finals = append(m.finals, tokens...)
	batch := m.finals[m.cursor:]
	m.cursor = len(m.finals)
	if len(batch) == 0 {
		return types.FinalUtterance{}, false
	}

	originalText, translatedText, sourceLanguage := splitBatch(batch)
	if originalText == "" && translatedText == "" {
		return types.FinalUtterance{}, false
	}

	switch {
	case originalText != "" && translatedText == "":
		if m.cfg.Translation.TranslationExpected(sourceLanguage) {
			m.pending = &pendingOriginal{
				originalText:   originalText,
				sourceLanguage: sourceLanguage,
				bufferedAt:     m.cfg.Now(),
			}
			return types.FinalUtterance{}, false
		}
		return types.FinalUtterance{
			OriginalText:   originalText,
			SourceLanguage: sourceLanguage,
			TargetLanguage: m.cfg.Translation.TargetFor(sourceLanguage),
		}, true

	case originalText == "" && translatedText != "":
		out := types.FinalUtterance{
			OriginalText:   translatedText,
			TranslatedText: translatedText,
		}
		if m.pending != nil {
			out.OriginalText = m.pending.originalText
			out.SourceLanguage = m.pending.sourceLanguage
		}
		out.TargetLanguage = m.cfg.Translation.TargetFor(out.SourceLanguage)
		m.pending = nil
		return out, true

	default:
		return types.FinalUtterance{
			OriginalText:   originalText,
			TranslatedText: translatedText,
			SourceLanguage: sourceLanguage,
			TargetLanguage: m.cfg.Translation.TargetFor(sourceLanguage),
		}, true
	}
}

// PendingOriginal returns the buffered original text awaiting translation,
// or "" when nothing is pending. The recording pipeline reads it on teardown
// to report text that is about to be discarded.
func (m *Machine) PendingOriginal() string {
	if m.pending == nil {
		return ""
	}
	return m.pending.originalText
}

// splitBatch partitions a token batch by translation status and concatenates
// each group's text. The source language is taken from the first
// original-group token that carries one. Tokens with an unknown status tag
// count as original-language output.
func splitBatch(tokens []types.Token) (original, translated, sourceLanguage string) {
	var orig, trans strings.Builder
	for _, tok := range tokens {
		if tok.IsTranslation() {
			trans.WriteString(tok.Text)
			continue
		}
		orig.WriteString(tok.Text)
		if sourceLanguage == "" && tok.Language != "" {
			sourceLanguage = tok.Language
		}
	}
	return orig.String(), trans.String(), sourceLanguage
}
