// Package engine defines the Engine interface for real-time transcription
// and translation backends.
//
// An engine wraps a streaming speech service and exposes a uniform interface:
// once a stream is open it accepts raw audio frames and emits batches of
// [types.Token]. Batch boundaries are load-bearing and must be preserved:
// the reconciliation state machine pairs original and translated finals by
// batch, so an engine that re-chunks or coalesces batches breaks pairing.
//
// Implementations must be safe for concurrent use. Multiple streams may be
// open simultaneously, one per speaking participant.
package engine

import (
	"context"

	"github.com/lingolive/lingolive/pkg/types"
)

// StreamConfig describes the audio format, translation behavior, and context
// hints for a new stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Zero lets the engine pick
	// its default.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// LanguageHints lists ISO 639-1 codes the speaker is likely to use.
	// An empty list lets the engine auto-detect freely.
	LanguageHints []string

	// Translation selects one-way or two-way live translation. The zero
	// value disables translation; the engine then emits only original
	// transcription tokens.
	Translation types.TranslationConfig

	// Context biases recognition and translation with domain vocabulary.
	// Emptiness is checked with [types.MergedContext.IsEmpty]; empty
	// contexts are not sent to the engine at all.
	Context types.MergedContext
}

// StreamHandle represents an open transcription stream. It is an interface so
// test code can substitute scripted implementations for a live connection.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so leaks goroutines and network connections inside the implementation.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw audio bytes for transcription.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Tokens returns a read-only channel emitting token batches exactly as
	// the engine produced them. A batch mixes non-final and final tokens;
	// original and translated finals may arrive in separate batches. The
	// channel is closed when the stream ends.
	Tokens() <-chan []types.Token

	// Err reports why the token channel closed. Nil after a clean finish,
	// non-nil after a protocol or transport failure. Valid only after the
	// Tokens channel has closed.
	Err() error

	// Close terminates the stream, asks the engine to flush buffered audio,
	// and releases all resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the abstraction over any transcription-translation backend.
type Engine interface {
	// StartStream opens a new streaming session. The returned handle is
	// ready to accept audio immediately. Returns an error if the stream
	// cannot be established, for example on authentication failure or when
	// ctx is already cancelled.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
