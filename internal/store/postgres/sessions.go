package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// CreateSession implements [store.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = store.SessionActive
	}
	sess.Code = strings.ToUpper(sess.Code)

	const q = `
		INSERT INTO sessions
		    (id, code, host_name, title, description, mode, target_language,
		     language_a, language_b, status, visibility, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`

	err := s.pool.QueryRow(ctx, q,
		sess.ID,
		sess.Code,
		sess.HostName,
		sess.Title,
		sess.Description,
		string(sess.Translation.Mode),
		sess.Translation.TargetLanguage,
		sess.Translation.LanguageA,
		sess.Translation.LanguageB,
		string(sess.Status),
		string(sess.Visibility),
		nullTime(sess.ScheduledAt),
	).Scan(&sess.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrCodeTaken
		}
		return fmt.Errorf("session store: create: %w", err)
	}
	return nil
}

// SessionByCode implements [store.SessionStore]. Codes are stored uppercase;
// lookup is case-insensitive.
func (s *Store) SessionByCode(ctx context.Context, code string) (*store.Session, error) {
	return s.scanSession(ctx, `WHERE code = $1`, strings.ToUpper(code))
}

// SessionByID implements [store.SessionStore].
func (s *Store) SessionByID(ctx context.Context, id string) (*store.Session, error) {
	return s.scanSession(ctx, `WHERE id = $1`, id)
}

const sessionColumns = `
	SELECT id, code, host_name, title, description, mode, target_language,
	       language_a, language_b, status, visibility, next_sequence,
	       scheduled_at, created_at, ended_at
	FROM   sessions `

func (s *Store) scanSession(ctx context.Context, where string, arg any) (*store.Session, error) {
	rows, err := s.pool.Query(ctx, sessionColumns+where, arg)
	if err != nil {
		return nil, fmt.Errorf("session store: query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("session store: query: %w", err)
		}
		return nil, store.ErrNotFound
	}
	sess, err := collectSession(rows)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func collectSession(row pgx.Row) (*store.Session, error) {
	var (
		sess         store.Session
		mode         string
		status       string
		visibility   string
		nextSequence int64
		scheduledAt  *time.Time
		endedAt      *time.Time
	)
	err := row.Scan(
		&sess.ID, &sess.Code, &sess.HostName, &sess.Title, &sess.Description,
		&mode, &sess.Translation.TargetLanguage,
		&sess.Translation.LanguageA, &sess.Translation.LanguageB,
		&status, &visibility, &nextSequence,
		&scheduledAt, &sess.CreatedAt, &endedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("session store: scan: %w", err)
	}
	sess.Translation.Mode = types.TranslationMode(mode)
	sess.Status = store.SessionStatus(status)
	sess.Visibility = store.Visibility(visibility)
	if scheduledAt != nil {
		sess.ScheduledAt = *scheduledAt
	}
	if endedAt != nil {
		sess.EndedAt = *endedAt
	}
	return &sess, nil
}

// UpdateSession implements [store.SessionStore].
func (s *Store) UpdateSession(ctx context.Context, sess *store.Session) error {
	const q = `
		UPDATE sessions
		SET    title = $2, description = $3, visibility = $4
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, sess.ID, sess.Title, sess.Description, string(sess.Visibility))
	if err != nil {
		return fmt.Errorf("session store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EndSession implements [store.SessionStore]. Already-ended sessions keep
// their original ended_at.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE sessions
		SET    status = 'ended', ended_at = $2
		WHERE  id = $1 AND status <> 'ended'`

	tag, err := s.pool.Exec(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("session store: end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "missing" from "already ended".
		if _, err := s.SessionByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ListPublicSessions implements [store.SessionStore].
func (s *Store) ListPublicSessions(ctx context.Context) ([]store.Session, error) {
	const q = sessionColumns + `
		WHERE visibility = 'public' AND status = 'active'
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("session store: list public: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		sess, err := collectSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session store: list public: %w", err)
	}
	return out, nil
}

// ── participants ─────────────────────────────────────────────────────────────

// AddParticipant implements [store.ParticipantStore].
func (s *Store) AddParticipant(ctx context.Context, p *store.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO participants (id, session_id, name, preferred_language, is_host)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING joined_at`

	err := s.pool.QueryRow(ctx, q, p.ID, p.SessionID, p.Name, p.PreferredLanguage, p.IsHost).
		Scan(&p.JoinedAt)
	if err != nil {
		return fmt.Errorf("participant store: add: %w", err)
	}
	return nil
}

// ParticipantByID implements [store.ParticipantStore].
func (s *Store) ParticipantByID(ctx context.Context, id string) (*store.Participant, error) {
	const q = `
		SELECT id, session_id, name, preferred_language, is_host, joined_at, left_at
		FROM   participants
		WHERE  id = $1`

	var (
		p      store.Participant
		leftAt *time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).
		Scan(&p.ID, &p.SessionID, &p.Name, &p.PreferredLanguage, &p.IsHost, &p.JoinedAt, &leftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("participant store: get: %w", err)
	}
	if leftAt != nil {
		p.LeftAt = *leftAt
	}
	return &p, nil
}

// ActiveParticipants implements [store.ParticipantStore].
func (s *Store) ActiveParticipants(ctx context.Context, sessionID string) ([]store.Participant, error) {
	const q = `
		SELECT id, session_id, name, preferred_language, is_host, joined_at
		FROM   participants
		WHERE  session_id = $1 AND left_at IS NULL
		ORDER  BY joined_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("participant store: list active: %w", err)
	}
	defer rows.Close()

	var out []store.Participant
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.PreferredLanguage, &p.IsHost, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("participant store: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participant store: list active: %w", err)
	}
	return out, nil
}

// MarkLeft implements [store.ParticipantStore].
func (s *Store) MarkLeft(ctx context.Context, participantID string, at time.Time) error {
	const q = `
		UPDATE participants
		SET    left_at = $2
		WHERE  id = $1 AND left_at IS NULL`

	tag, err := s.pool.Exec(ctx, q, participantID, at)
	if err != nil {
		return fmt.Errorf("participant store: mark left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.ParticipantByID(ctx, participantID); err != nil {
			return err
		}
	}
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
