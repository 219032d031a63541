package postgres

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

// Append implements [store.TranscriptStore]. The sequence number is taken
// from the session's next_sequence counter inside the same transaction as
// the insert, so the UPDATE row lock serializes concurrent appenders and
// the counter can never hand out the same number twice. The status check
// rides on the same statement: an ended session matches zero rows.
func (s *Store) Append(ctx context.Context, req store.AppendRequest) (*types.Transcript, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("transcript store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const allocate = `
		UPDATE sessions
		SET    next_sequence = next_sequence + 1
		WHERE  id = $1 AND status = 'active'
		RETURNING next_sequence`

	var sequence int64
	if err := tx.QueryRow(ctx, allocate, req.SessionID).Scan(&sequence); err != nil {
		// Zero rows means the session is missing or ended; tell them apart.
		sess, lookupErr := s.SessionByID(ctx, req.SessionID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if !sess.IsActive() {
			return nil, store.ErrSessionEnded
		}
		return nil, fmt.Errorf("transcript store: allocate sequence: %w", err)
	}

	t := &types.Transcript{
		ID:              ulid.Make().String(),
		SessionID:       req.SessionID,
		ParticipantID:   req.ParticipantID,
		ParticipantName: req.ParticipantName,
		OriginalText:    req.OriginalText,
		TranslatedText:  req.TranslatedText,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
		Sequence:        sequence,
	}

	const insert = `
		INSERT INTO transcripts
		    (id, session_id, participant_id, participant_name, original_text,
		     translated_text, source_language, target_language, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err = tx.QueryRow(ctx, insert,
		t.ID, t.SessionID, t.ParticipantID, t.ParticipantName, t.OriginalText,
		t.TranslatedText, t.SourceLanguage, t.TargetLanguage, t.Sequence,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transcript store: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("transcript store: commit: %w", err)
	}
	return t, nil
}

// ListFinal implements [store.TranscriptStore].
func (s *Store) ListFinal(ctx context.Context, sessionID string) ([]types.Transcript, error) {
	const q = `
		SELECT id, session_id, participant_id, participant_name, original_text,
		       translated_text, source_language, target_language,
		       sequence_number, created_at
		FROM   transcripts
		WHERE  session_id = $1
		ORDER  BY sequence_number`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	defer rows.Close()

	var out []types.Transcript
	for rows.Next() {
		var t types.Transcript
		err := rows.Scan(
			&t.ID, &t.SessionID, &t.ParticipantID, &t.ParticipantName, &t.OriginalText,
			&t.TranslatedText, &t.SourceLanguage, &t.TargetLanguage,
			&t.Sequence, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("transcript store: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	return out, nil
}
