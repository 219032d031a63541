package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lingolive/lingolive/internal/contextset"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

// CreateContextSet implements [store.ContextStore]. The set row and all
// detail rows go in one transaction.
func (s *Store) CreateContextSet(ctx context.Context, set *contextset.Set) error {
	if set.ID == "" {
		set.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("context store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO context_sets (id, owner_id, name, description, text, is_public)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, q, set.ID, set.OwnerID, set.Name, set.Description, set.Text, set.IsPublic).
		Scan(&set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return fmt.Errorf("context store: create: %w", err)
	}

	if err := insertDetails(ctx, tx, set); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("context store: commit: %w", err)
	}
	return nil
}

// ContextSetByID implements [store.ContextStore].
func (s *Store) ContextSetByID(ctx context.Context, id string) (*contextset.Set, error) {
	const q = `
		SELECT id, owner_id, name, description, text, is_public, created_at, updated_at
		FROM   context_sets
		WHERE  id = $1`

	set, err := scanSet(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadDetails(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}

// ListContextSets implements [store.ContextStore]. Listings return header
// rows only; detail rows are loaded per set via [Store.ContextSetByID].
func (s *Store) ListContextSets(ctx context.Context, ownerID string, includePublic bool) ([]contextset.Set, error) {
	const q = `
		SELECT id, owner_id, name, description, text, is_public, created_at, updated_at
		FROM   context_sets
		WHERE  owner_id = $1 OR ($2 AND is_public)
		ORDER  BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, ownerID, includePublic)
	if err != nil {
		return nil, fmt.Errorf("context store: list: %w", err)
	}
	defer rows.Close()

	var out []contextset.Set
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context store: list: %w", err)
	}
	return out, nil
}

// UpdateContextSet implements [store.ContextStore]. Detail rows are replaced
// wholesale; partial edits are resolved by the caller before persisting.
func (s *Store) UpdateContextSet(ctx context.Context, set *contextset.Set) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("context store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE context_sets
		SET    name = $2, description = $3, text = $4, is_public = $5, updated_at = now()
		WHERE  id = $1
		RETURNING updated_at`

	err = tx.QueryRow(ctx, q, set.ID, set.Name, set.Description, set.Text, set.IsPublic).
		Scan(&set.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("context store: update: %w", err)
	}

	for _, table := range []string{"context_set_terms", "context_set_general", "context_set_translation_terms"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE context_set_id = $1`, set.ID); err != nil {
			return fmt.Errorf("context store: clear %s: %w", table, err)
		}
	}
	if err := insertDetails(ctx, tx, set); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("context store: commit: %w", err)
	}
	return nil
}

// DeleteContextSet implements [store.ContextStore]. Detail rows and session
// attachments cascade at the database level.
func (s *Store) DeleteContextSet(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM context_sets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("context store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AttachContextSet implements [store.ContextStore].
func (s *Store) AttachContextSet(ctx context.Context, att *contextset.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO session_context_sets (id, session_id, context_set_id, sort_order)
		VALUES ($1, $2, $3, $4)
		RETURNING added_at`

	err := s.pool.QueryRow(ctx, q, att.ID, att.SessionID, att.ContextSetID, att.SortOrder).
		Scan(&att.AddedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Re-attaching an already-attached set just moves its priority.
			const update = `
				UPDATE session_context_sets
				SET    sort_order = $3
				WHERE  session_id = $1 AND context_set_id = $2
				RETURNING id, added_at`
			err = s.pool.QueryRow(ctx, update, att.SessionID, att.ContextSetID, att.SortOrder).
				Scan(&att.ID, &att.AddedAt)
		}
		if err != nil {
			return fmt.Errorf("context store: attach: %w", err)
		}
	}
	return nil
}

// DetachContextSet implements [store.ContextStore].
func (s *Store) DetachContextSet(ctx context.Context, sessionID, contextSetID string) error {
	const q = `DELETE FROM session_context_sets WHERE session_id = $1 AND context_set_id = $2`

	tag, err := s.pool.Exec(ctx, q, sessionID, contextSetID)
	if err != nil {
		return fmt.Errorf("context store: detach: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SessionContextSets implements [store.ContextStore].
func (s *Store) SessionContextSets(ctx context.Context, sessionID string) ([]contextset.Set, []contextset.Attachment, error) {
	const q = `
		SELECT a.id, a.session_id, a.context_set_id, a.sort_order, a.added_at,
		       c.id, c.owner_id, c.name, c.description, c.text, c.is_public,
		       c.created_at, c.updated_at
		FROM   session_context_sets a
		JOIN   context_sets c ON c.id = a.context_set_id
		WHERE  a.session_id = $1
		ORDER  BY a.sort_order, a.added_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("context store: session sets: %w", err)
	}
	defer rows.Close()

	var (
		sets []contextset.Set
		atts []contextset.Attachment
	)
	for rows.Next() {
		var (
			att contextset.Attachment
			set contextset.Set
		)
		err := rows.Scan(
			&att.ID, &att.SessionID, &att.ContextSetID, &att.SortOrder, &att.AddedAt,
			&set.ID, &set.OwnerID, &set.Name, &set.Description, &set.Text, &set.IsPublic,
			&set.CreatedAt, &set.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("context store: scan: %w", err)
		}
		atts = append(atts, att)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("context store: session sets: %w", err)
	}

	for i := range sets {
		if err := s.loadDetails(ctx, &sets[i]); err != nil {
			return nil, nil, err
		}
	}
	return sets, atts, nil
}

// ── detail rows ──────────────────────────────────────────────────────────────

func scanSet(row pgx.Row) (*contextset.Set, error) {
	var (
		set       contextset.Set
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&set.ID, &set.OwnerID, &set.Name, &set.Description, &set.Text,
		&set.IsPublic, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("context store: scan: %w", err)
	}
	set.CreatedAt = createdAt
	set.UpdatedAt = updatedAt
	return &set, nil
}

func insertDetails(ctx context.Context, tx pgx.Tx, set *contextset.Set) error {
	for _, t := range set.Terms {
		_, err := tx.Exec(ctx,
			`INSERT INTO context_set_terms (context_set_id, term, sort_order) VALUES ($1, $2, $3)`,
			set.ID, t.Term, t.SortOrder)
		if err != nil {
			return fmt.Errorf("context store: insert term: %w", err)
		}
	}
	for _, g := range set.General {
		_, err := tx.Exec(ctx,
			`INSERT INTO context_set_general (context_set_id, key, value) VALUES ($1, $2, $3)`,
			set.ID, g.Key, g.Value)
		if err != nil {
			return fmt.Errorf("context store: insert general: %w", err)
		}
	}
	for _, tt := range set.TranslationTerms {
		_, err := tx.Exec(ctx,
			`INSERT INTO context_set_translation_terms (context_set_id, source, target, sort_order) VALUES ($1, $2, $3, $4)`,
			set.ID, tt.Source, tt.Target, tt.SortOrder)
		if err != nil {
			return fmt.Errorf("context store: insert translation term: %w", err)
		}
	}
	return nil
}

func (s *Store) loadDetails(ctx context.Context, set *contextset.Set) error {
	set.Terms = []contextset.Term{}
	set.General = []types.GeneralPair{}
	set.TranslationTerms = []contextset.OrderedTranslationTerm{}

	rows, err := s.pool.Query(ctx,
		`SELECT term, sort_order FROM context_set_terms WHERE context_set_id = $1 ORDER BY sort_order`,
		set.ID)
	if err != nil {
		return fmt.Errorf("context store: load terms: %w", err)
	}
	for rows.Next() {
		var t contextset.Term
		if err := rows.Scan(&t.Term, &t.SortOrder); err != nil {
			rows.Close()
			return fmt.Errorf("context store: scan term: %w", err)
		}
		set.Terms = append(set.Terms, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("context store: load terms: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT key, value FROM context_set_general WHERE context_set_id = $1`,
		set.ID)
	if err != nil {
		return fmt.Errorf("context store: load general: %w", err)
	}
	for rows.Next() {
		var g types.GeneralPair
		if err := rows.Scan(&g.Key, &g.Value); err != nil {
			rows.Close()
			return fmt.Errorf("context store: scan general: %w", err)
		}
		set.General = append(set.General, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("context store: load general: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT source, target, sort_order FROM context_set_translation_terms WHERE context_set_id = $1 ORDER BY sort_order`,
		set.ID)
	if err != nil {
		return fmt.Errorf("context store: load translation terms: %w", err)
	}
	for rows.Next() {
		var tt contextset.OrderedTranslationTerm
		if err := rows.Scan(&tt.Source, &tt.Target, &tt.SortOrder); err != nil {
			rows.Close()
			return fmt.Errorf("context store: scan translation term: %w", err)
		}
		set.TranslationTerms = append(set.TranslationTerms, tt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("context store: load translation terms: %w", err)
	}
	return nil
}
