package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingolive/lingolive/internal/engine"
	"github.com/lingolive/lingolive/internal/reconcile"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

// StreamOptions tune the audio format of a recording.
type StreamOptions struct {
	SampleRate int
	Channels   int
}

// StartRecording opens an engine stream for the participant and runs the
// recording pipeline until the stream ends or [Recording.Stop] is called.
// One recording per participant: starting while one is active replaces it.
func (m *Manager) StartRecording(ctx context.Context, sessionID, participantID string, opts StreamOptions) (*Recording, error) {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, ErrSessionEnded
	}
	p, err := m.store.ParticipantByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() || p.SessionID != sessionID {
		return nil, fmt.Errorf("session: participant %s is not active in session %s", participantID, sessionID)
	}

	merged, err := m.MergedContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var hints []string
	if p.PreferredLanguage != "" {
		hints = append(hints, p.PreferredLanguage)
	}

	dialStart := time.Now()
	handle, err := m.engine.StartStream(ctx, engine.StreamConfig{
		SampleRate:    opts.SampleRate,
		Channels:      opts.Channels,
		LanguageHints: hints,
		Translation:   sess.Translation,
		Context:       merged,
	})
	m.metrics.EngineDialDuration.Record(ctx, time.Since(dialStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("session: start engine stream: %w", err)
	}

	machine := reconcile.New(reconcile.Config{
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Translation:     sess.Translation,
	})
	machine.Start()

	// The pipeline must outlive the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Recording{
		manager:         m,
		sessionID:       sessionID,
		participantID:   p.ID,
		participantName: p.Name,
		handle:          handle,
		machine:         machine,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	m.stopRecording(p.ID)
	m.mu.Lock()
	m.recordings[p.ID] = r
	m.mu.Unlock()
	m.metrics.ActiveRecordings.Add(ctx, 1)

	go r.run(runCtx)

	m.logger.Info("recording started",
		"session_id", sessionID,
		"participant_id", p.ID)
	return r, nil
}

// Recording is one participant's live pipeline from engine tokens to
// reconciliation, persistence, and fan-out.
type Recording struct {
	manager         *Manager
	sessionID       string
	participantID   string
	participantName string
	handle          engine.StreamHandle
	machine         *reconcile.Machine
	cancel          context.CancelFunc
	done            chan struct{}
}

// SendAudio forwards an audio chunk to the engine stream.
func (r *Recording) SendAudio(chunk []byte) error {
	return r.handle.SendAudio(chunk)
}

// Stop closes the engine stream and blocks until the pipeline has drained
// the remaining token batches. Safe to call more than once.
func (r *Recording) Stop() {
	_ = r.handle.Close()
	<-r.done
}

// Done is closed when the pipeline has fully terminated.
func (r *Recording) Done() <-chan struct{} { return r.done }

// Err reports why the pipeline stopped. Nil after a clean stop.
func (r *Recording) Err() error {
	select {
	case <-r.done:
		return r.handle.Err()
	default:
		return nil
	}
}

// run consumes token batches until the engine closes the stream. Every batch
// is split into its final and non-final halves: finals feed the
// reconciliation machine's pairing logic, the non-final remainder replaces
// the live preview. The empty remainder after a final batch is what clears
// the preview on listener screens.
func (r *Recording) run(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()
	defer r.manager.forget(r)
	defer r.manager.metrics.ActiveRecordings.Add(ctx, -1)

	log := r.manager.logger.With(
		"session_id", r.sessionID,
		"participant_id", r.participantID)

	for batch := range r.handle.Tokens() {
		var finals, nonFinals []types.Token
		for _, t := range batch {
			if t.IsFinal {
				finals = append(finals, t)
			} else {
				nonFinals = append(nonFinals, t)
			}
		}

		if len(finals) > 0 {
			r.manager.metrics.RecordTokenBatch(ctx, "final")
			if utterance, ok := r.machine.HandleFinal(finals); ok {
				r.persist(ctx, log, utterance)
			}
		}
		if len(nonFinals) > 0 {
			r.manager.metrics.RecordTokenBatch(ctx, "non_final")
		}

		if event, ok := r.machine.HandleNonFinal(nonFinals); ok {
			if err := r.manager.hub.PublishPreview(ctx, r.sessionID, event); err != nil {
				log.Warn("preview broadcast failed", "error", err)
			} else {
				r.manager.metrics.PreviewBroadcasts.Add(ctx, 1)
			}
		}
	}

	// Read the machine's tail state before stopping it: a live preview that
	// listeners are still displaying, and possibly an original whose
	// translation never arrived.
	if pv := r.machine.Preview(); pv.Text != "" {
		blank := types.PreviewEvent{
			ParticipantID:   r.participantID,
			ParticipantName: r.participantName,
			Timestamp:       time.Now().UnixMilli(),
		}
		if err := r.manager.hub.PublishPreview(ctx, r.sessionID, blank); err != nil {
			log.Warn("preview clear failed", "error", err)
		}
	}
	if pending := r.machine.PendingOriginal(); pending != "" {
		log.Warn("discarding original with no translation", "characters", len(pending))
	}

	if err := r.handle.Err(); err != nil {
		r.machine.Fail(err)
		r.manager.metrics.EngineErrors.Add(ctx, 1)
		log.Error("recording stream failed", "error", err)
		return
	}
	r.machine.Stop()
	log.Info("recording stopped")
}

// persist appends one finalized utterance and fans it out. Persistence
// failures are logged, not fatal: the live session keeps going and only the
// failed row is lost.
func (r *Recording) persist(ctx context.Context, log *slog.Logger, u types.FinalUtterance) {
	transcript, err := r.manager.store.Append(ctx, store.AppendRequest{
		SessionID:       r.sessionID,
		ParticipantID:   r.participantID,
		ParticipantName: r.participantName,
		OriginalText:    u.OriginalText,
		TranslatedText:  u.TranslatedText,
		SourceLanguage:  u.SourceLanguage,
		TargetLanguage:  u.TargetLanguage,
	})
	if err != nil {
		if errors.Is(err, store.ErrSessionEnded) {
			// Expected during teardown races; the final few utterances of an
			// ending session are dropped.
			return
		}
		log.Warn("transcript append failed", "error", err)
		return
	}

	if err := r.manager.hub.PublishTranscript(ctx, r.sessionID, *transcript); err != nil {
		log.Warn("transcript broadcast failed", "error", err)
	}
}
