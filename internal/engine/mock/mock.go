// Package mock provides test doubles for the engine package interfaces.
//
// Use Engine to verify that the caller starts streams with the expected
// StreamConfig. Use Stream to feed controlled token batches and inspect
// which audio chunks were delivered.
//
// Example:
//
//	st := &mock.Stream{TokensCh: make(chan []types.Token, 4)}
//	eng := &mock.Engine{Stream: st}
//	handle, _ := eng.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/lingolive/lingolive/internal/engine"
	"github.com/lingolive/lingolive/pkg/types"
)

// StartStreamCall records a single invocation of Engine.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg engine.StreamConfig
}

// Engine is a mock implementation of engine.Engine.
type Engine struct {
	mu sync.Mutex

	// Stream is the StreamHandle returned by StartStream. If nil,
	// StartStream returns a new default Stream with a buffered channel.
	Stream engine.StreamHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Stream, StartStreamErr.
func (e *Engine) StartStream(ctx context.Context, cfg engine.StreamConfig) (engine.StreamHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartStreamCalls = append(e.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if e.StartStreamErr != nil {
		return nil, e.StartStreamErr
	}
	if e.Stream != nil {
		return e.Stream, nil
	}
	return &Stream{TokensCh: make(chan []types.Token, 16)}, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartStreamCalls = nil
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// SendAudioCall records a single invocation of Stream.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Stream is a mock implementation of engine.StreamHandle.
// Callers pre-populate TokensCh with the batches they want the consumer to
// receive. Close ends the token stream the way the real engine does.
type Stream struct {
	mu        sync.Mutex
	closeOnce sync.Once

	// TokensCh is the channel returned by Tokens(). Callers send batches on
	// it in tests; Close closes it.
	TokensCh chan []types.Token

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// StreamErr is returned by Err.
	StreamErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Tokens returns TokensCh. The caller must have initialised TokensCh before
// calling this method.
func (s *Stream) Tokens() <-chan []types.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TokensCh
}

// Err returns StreamErr.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StreamErr
}

// Close records the call, returns CloseErr, and closes TokensCh so the
// consumer observes end of stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	ch := s.TokensCh
	s.mu.Unlock()

	if ch != nil {
		s.closeOnce.Do(func() { close(ch) })
	}
	return err
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Stream) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Stream implements engine.StreamHandle at compile time.
var _ engine.StreamHandle = (*Stream)(nil)
