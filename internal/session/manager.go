// Package session coordinates the lifecycle of live translation sessions:
// creation with spoken-friendly join codes, membership, context assembly,
// and the per-participant recording pipeline that connects the engine token
// stream to reconciliation, persistence, and real-time fan-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lingolive/lingolive/internal/contextset"
	"github.com/lingolive/lingolive/internal/engine"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

// ErrSessionEnded is returned by operations against a session that has been
// soft-ended.
var ErrSessionEnded = errors.New("session: session has ended")

// ErrLanguageMismatch is returned when a participant's preferred language is
// outside a two-way session's configured pair.
var ErrLanguageMismatch = errors.New("session: preferred language not in the session's language pair")

// codeRetries bounds how often session creation retries on a join code
// collision before giving up.
const codeRetries = 5

// CreateParams are the host-supplied inputs for a new session.
type CreateParams struct {
	HostName    string
	Title       string
	Description string
	Translation types.TranslationConfig
	Visibility  store.Visibility
	ScheduledAt time.Time
}

// Manager owns session lifecycle and the active recording pipelines of this
// server instance. All methods are safe for concurrent use.
type Manager struct {
	store   store.Store
	hub     *realtime.Hub
	engine  engine.Engine
	metrics *observe.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	recordings map[string]*Recording // keyed by participant ID
}

// NewManager wires a Manager to its collaborators. metrics and logger may be
// nil, in which case [observe.DefaultMetrics] and [slog.Default] are used.
func NewManager(st store.Store, hub *realtime.Hub, eng engine.Engine, metrics *observe.Metrics, logger *slog.Logger) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		hub:        hub,
		engine:     eng,
		metrics:    metrics,
		logger:     logger,
		recordings: make(map[string]*Recording),
	}
}

// Create stores a new session with a fresh join code and registers the host
// as its first participant.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*store.Session, *store.Participant, error) {
	if p.HostName == "" {
		return nil, nil, errors.New("session: host name is required")
	}
	if !p.Translation.Mode.IsValid() {
		return nil, nil, fmt.Errorf("session: invalid translation mode %q", p.Translation.Mode)
	}
	if p.Visibility == "" {
		p.Visibility = store.VisibilityPrivate
	}

	sess := &store.Session{
		HostName:    p.HostName,
		Title:       p.Title,
		Description: p.Description,
		Translation: p.Translation,
		Visibility:  p.Visibility,
		ScheduledAt: p.ScheduledAt,
	}

	var err error
	for i := 0; i < codeRetries; i++ {
		sess.Code, err = newCode()
		if err != nil {
			return nil, nil, err
		}
		err = m.store.CreateSession(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrCodeTaken) {
			return nil, nil, err
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session: exhausted join code retries: %w", err)
	}

	host := &store.Participant{
		SessionID: sess.ID,
		Name:      p.HostName,
		IsHost:    true,
	}
	if err := m.store.AddParticipant(ctx, host); err != nil {
		return nil, nil, err
	}

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.logger.Info("session created",
		"session_id", sess.ID,
		"code", sess.Code,
		"mode", sess.Translation.Mode)
	return sess, host, nil
}

// Join adds a participant to the session identified by code. Joining an
// ended session fails with [ErrSessionEnded].
func (m *Manager) Join(ctx context.Context, code, name, preferredLanguage string) (*store.Session, *store.Participant, error) {
	if name == "" {
		return nil, nil, errors.New("session: participant name is required")
	}

	sess, err := m.store.SessionByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !sess.IsActive() {
		return nil, nil, ErrSessionEnded
	}
	// Two-way sessions interpret speech relative to the configured pair, so
	// a preference outside it could never be honored.
	if tc := sess.Translation; tc.Mode == types.ModeTwoWay && preferredLanguage != "" {
		if preferredLanguage != tc.LanguageA && preferredLanguage != tc.LanguageB {
			return nil, nil, ErrLanguageMismatch
		}
	}

	p := &store.Participant{
		SessionID:         sess.ID,
		Name:              name,
		PreferredLanguage: preferredLanguage,
	}
	if err := m.store.AddParticipant(ctx, p); err != nil {
		return nil, nil, err
	}

	if err := m.hub.PublishParticipantsChanged(ctx, sess.ID); err != nil {
		m.logger.Warn("participants broadcast failed", "session_id", sess.ID, "error", err)
	}
	return sess, p, nil
}

// Leave soft-removes a participant and tears down their recording, if any.
func (m *Manager) Leave(ctx context.Context, participantID string) error {
	p, err := m.store.ParticipantByID(ctx, participantID)
	if err != nil {
		return err
	}

	m.stopRecording(participantID)

	if err := m.store.MarkLeft(ctx, participantID, time.Now()); err != nil {
		return err
	}
	if err := m.hub.PublishParticipantsChanged(ctx, p.SessionID); err != nil {
		m.logger.Warn("participants broadcast failed", "session_id", p.SessionID, "error", err)
	}
	return nil
}

// End soft-ends a session and tears down every recording attached to it.
// Ending an already-ended session is a no-op.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	wasActive := sess.IsActive()

	if err := m.store.EndSession(ctx, sessionID, time.Now()); err != nil {
		return err
	}
	if wasActive {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}

	m.mu.Lock()
	var doomed []*Recording
	for _, r := range m.recordings {
		if r.sessionID == sessionID {
			doomed = append(doomed, r)
		}
	}
	m.mu.Unlock()
	for _, r := range doomed {
		r.Stop()
	}

	if err := m.hub.PublishParticipantsChanged(ctx, sessionID); err != nil {
		m.logger.Warn("participants broadcast failed", "session_id", sessionID, "error", err)
	}
	m.logger.Info("session ended", "session_id", sessionID)
	return nil
}

// MergedContext assembles the session's attached context sets, in merge
// priority order, into the single bounded context handed to the engine.
func (m *Manager) MergedContext(ctx context.Context, sessionID string) (types.MergedContext, error) {
	sets, _, err := m.store.SessionContextSets(ctx, sessionID)
	if err != nil {
		return types.MergedContext{}, err
	}
	return contextset.Merge(sets), nil
}

// Recording returns the participant's active recording pipeline, or nil.
func (m *Manager) Recording(participantID string) *Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordings[participantID]
}

// stopRecording stops and forgets the participant's pipeline if one exists.
func (m *Manager) stopRecording(participantID string) {
	m.mu.Lock()
	r := m.recordings[participantID]
	m.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// forget removes a finished recording from the active map. Called by the
// pipeline itself on teardown.
func (m *Manager) forget(r *Recording) {
	m.mu.Lock()
	if m.recordings[r.participantID] == r {
		delete(m.recordings, r.participantID)
	}
	m.mu.Unlock()
}
