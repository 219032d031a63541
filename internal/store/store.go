// Package store defines the persistence contracts for LingoLive sessions,
// participants, finalized transcripts, and context sets.
//
// Two implementations exist: [MemStore], an in-process store for tests and
// development, and the PostgreSQL store in the postgres subpackage for
// production. Both enforce the same invariants:
//
//   - transcript sequence numbers are strictly increasing per session,
//     allocated atomically at append time, never reused (gaps are fine);
//   - only finalized content is ever stored; the read path cannot return a
//     non-final row because one can never be written;
//   - participants and sessions are never deleted, they are closed via
//     LeftAt/EndedAt lifecycle timestamps.
//
// Append is deliberately not idempotent: a duplicate call creates a second
// row with a fresh sequence number. Deduplication is the reconciliation
// state machine's job via its finalization cursor, not the store's.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lingolive/lingolive/internal/contextset"
	"github.com/lingolive/lingolive/pkg/types"
)

// Sentinel errors shared by all implementations.
var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrSessionEnded is returned by writes against a session whose lifecycle
	// status is ended.
	ErrSessionEnded = errors.New("store: session has ended")

	// ErrInvalidAppend is returned when an append request is missing the
	// participant name or original text.
	ErrInvalidAppend = errors.New("store: participant name and original text are required")

	// ErrCodeTaken is returned when a generated join code collides with an
	// existing session; callers regenerate and retry.
	ErrCodeTaken = errors.New("store: join code already in use")
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Visibility controls whether a session appears in public listings.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Session is one translation session. Sessions are soft-ended, never
// deleted: EndedAt is the zero time while the session is live.
type Session struct {
	ID          string                  `json:"id"`
	Code        string                  `json:"code"`
	HostName    string                  `json:"host_name"`
	Title       string                  `json:"title,omitempty"`
	Description string                  `json:"description,omitempty"`
	Translation types.TranslationConfig `json:"translation"`
	Status      SessionStatus           `json:"status"`
	Visibility  Visibility              `json:"visibility"`
	ScheduledAt time.Time               `json:"scheduled_at,omitzero"`
	CreatedAt   time.Time               `json:"created_at"`
	EndedAt     time.Time               `json:"ended_at,omitzero"`
}

// IsActive is the single lifecycle predicate for sessions; all callers go
// through it rather than inspecting Status or EndedAt directly.
func (s *Session) IsActive() bool { return s.Status == SessionActive }

// Participant is one session member. Participants soft-leave via LeftAt;
// an active participant has the zero LeftAt.
type Participant struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Name              string    `json:"name"`
	PreferredLanguage string    `json:"preferred_language,omitempty"`
	IsHost            bool      `json:"is_host"`
	JoinedAt          time.Time `json:"joined_at"`
	LeftAt            time.Time `json:"left_at,omitzero"`
}

// IsActive is the single lifecycle predicate for participants.
func (p *Participant) IsActive() bool { return p.LeftAt.IsZero() }

// AppendRequest is the input to [TranscriptStore.Append]. Only finalized
// content exists at this boundary; streaming previews never reach the store.
type AppendRequest struct {
	SessionID       string
	ParticipantID   string
	ParticipantName string
	OriginalText    string
	TranslatedText  string
	SourceLanguage  string
	TargetLanguage  string
}

// Validate reports whether the request satisfies the append contract.
func (r AppendRequest) Validate() error {
	if r.ParticipantName == "" || r.OriginalText == "" {
		return ErrInvalidAppend
	}
	return nil
}

// SessionStore persists sessions.
type SessionStore interface {
	// CreateSession stores a new session. Returns [ErrCodeTaken] when the
	// join code is already assigned to another session.
	CreateSession(ctx context.Context, s *Session) error

	// SessionByCode looks a session up by its join code, case-insensitively.
	SessionByCode(ctx context.Context, code string) (*Session, error)

	// SessionByID looks a session up by record ID.
	SessionByID(ctx context.Context, id string) (*Session, error)

	// UpdateSession persists changes to title, description, and visibility.
	UpdateSession(ctx context.Context, s *Session) error

	// EndSession marks the session ended at the given time. Ending an
	// already-ended session is a no-op.
	EndSession(ctx context.Context, id string, at time.Time) error

	// ListPublicSessions returns active public sessions, newest first.
	ListPublicSessions(ctx context.Context) ([]Session, error)
}

// ParticipantStore persists session membership.
type ParticipantStore interface {
	// AddParticipant stores a new participant joining a session.
	AddParticipant(ctx context.Context, p *Participant) error

	// ParticipantByID looks a participant up by record ID.
	ParticipantByID(ctx context.Context, id string) (*Participant, error)

	// ActiveParticipants returns the session's members who have not left,
	// ordered by join time.
	ActiveParticipants(ctx context.Context, sessionID string) ([]Participant, error)

	// MarkLeft records a soft leave. Marking an already-left participant is
	// a no-op.
	MarkLeft(ctx context.Context, participantID string, at time.Time) error
}

// TranscriptStore persists finalized transcripts with per-session ordering.
type TranscriptStore interface {
	// Append stores one finalized utterance and returns the stored row with
	// its assigned ID, sequence number, and creation time. The sequence is
	// allocated atomically per session; concurrent appends from different
	// participants never share a number. Returns [ErrSessionEnded] when the
	// session is no longer active and [ErrInvalidAppend] on a request that
	// fails [AppendRequest.Validate].
	Append(ctx context.Context, req AppendRequest) (*types.Transcript, error)

	// ListFinal returns the session's finalized transcripts ordered by
	// ascending sequence number.
	ListFinal(ctx context.Context, sessionID string) ([]types.Transcript, error)
}

// ContextStore persists context sets and their session attachments.
type ContextStore interface {
	// CreateContextSet stores a new context set with its detail rows.
	CreateContextSet(ctx context.Context, set *contextset.Set) error

	// ContextSetByID returns a context set with all detail rows.
	ContextSetByID(ctx context.Context, id string) (*contextset.Set, error)

	// ListContextSets returns sets owned by ownerID plus, when includePublic
	// is set, everyone's public sets. Ordered by most recently updated.
	ListContextSets(ctx context.Context, ownerID string, includePublic bool) ([]contextset.Set, error)

	// UpdateContextSet replaces the set's fields and detail rows.
	UpdateContextSet(ctx context.Context, set *contextset.Set) error

	// DeleteContextSet removes a context set and its attachments.
	DeleteContextSet(ctx context.Context, id string) error

	// AttachContextSet links a context set to a session at the given merge
	// priority position.
	AttachContextSet(ctx context.Context, att *contextset.Attachment) error

	// DetachContextSet removes a session↔set link.
	DetachContextSet(ctx context.Context, sessionID, contextSetID string) error

	// SessionContextSets returns the session's attached sets in merge
	// priority order (ascending attachment sort order) together with the
	// attachment rows themselves.
	SessionContextSets(ctx context.Context, sessionID string) ([]contextset.Set, []contextset.Attachment, error)
}

// Store aggregates every persistence contract the server needs.
type Store interface {
	SessionStore
	ParticipantStore
	TranscriptStore
	ContextStore
}
