package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: sessions & participants
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT         PRIMARY KEY,
    code            TEXT         NOT NULL UNIQUE,
    host_name       TEXT         NOT NULL,
    title           TEXT         NOT NULL DEFAULT '',
    description     TEXT         NOT NULL DEFAULT '',
    mode            TEXT         NOT NULL,
    target_language TEXT         NOT NULL DEFAULT '',
    language_a      TEXT         NOT NULL DEFAULT '',
    language_b      TEXT         NOT NULL DEFAULT '',
    status          TEXT         NOT NULL DEFAULT 'active',
    visibility      TEXT         NOT NULL DEFAULT 'private',
    next_sequence   BIGINT       NOT NULL DEFAULT 0,
    scheduled_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS participants (
    id                 TEXT         PRIMARY KEY,
    session_id         TEXT         NOT NULL REFERENCES sessions(id),
    name               TEXT         NOT NULL,
    preferred_language TEXT         NOT NULL DEFAULT '',
    is_host            BOOLEAN      NOT NULL DEFAULT false,
    joined_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    left_at            TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_participants_session_active
    ON participants (session_id) WHERE left_at IS NULL;
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL: transcripts
// ─────────────────────────────────────────────────────────────────────────────

// The store only ever holds finalized rows; there is no is_final column
// because a non-final row can never be inserted. The per-session uniqueness
// of sequence_number is the ordering invariant, enforced by the database.
const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id               TEXT         PRIMARY KEY,
    session_id       TEXT         NOT NULL REFERENCES sessions(id),
    participant_id   TEXT         NOT NULL DEFAULT '',
    participant_name TEXT         NOT NULL,
    original_text    TEXT         NOT NULL,
    translated_text  TEXT         NOT NULL DEFAULT '',
    source_language  TEXT         NOT NULL DEFAULT '',
    target_language  TEXT         NOT NULL DEFAULT '',
    sequence_number  BIGINT       NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_sequence
    ON transcripts (session_id, sequence_number);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL: context sets
// ─────────────────────────────────────────────────────────────────────────────

const ddlContextSets = `
CREATE TABLE IF NOT EXISTS context_sets (
    id          TEXT         PRIMARY KEY,
    owner_id    TEXT         NOT NULL DEFAULT '',
    name        TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL DEFAULT '',
    is_public   BOOLEAN      NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS context_set_terms (
    context_set_id TEXT    NOT NULL REFERENCES context_sets(id) ON DELETE CASCADE,
    term           TEXT    NOT NULL,
    sort_order     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_context_set_terms_set
    ON context_set_terms (context_set_id, sort_order);

CREATE TABLE IF NOT EXISTS context_set_general (
    context_set_id TEXT NOT NULL REFERENCES context_sets(id) ON DELETE CASCADE,
    key            TEXT NOT NULL,
    value          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_context_set_general_set
    ON context_set_general (context_set_id);

CREATE TABLE IF NOT EXISTS context_set_translation_terms (
    context_set_id TEXT    NOT NULL REFERENCES context_sets(id) ON DELETE CASCADE,
    source         TEXT    NOT NULL,
    target         TEXT    NOT NULL,
    sort_order     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_context_set_translation_terms_set
    ON context_set_translation_terms (context_set_id, sort_order);

CREATE TABLE IF NOT EXISTS session_context_sets (
    id             TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL REFERENCES sessions(id),
    context_set_id TEXT         NOT NULL REFERENCES context_sets(id) ON DELETE CASCADE,
    sort_order     INTEGER      NOT NULL DEFAULT 0,
    added_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, context_set_id)
);
`

// Migrate creates all LingoLive tables and indexes if they do not exist.
// Safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSessions, ddlTranscripts, ddlContextSets} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
