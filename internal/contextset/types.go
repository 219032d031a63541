// Package contextset provides reusable vocabulary context management for
// LingoLive sessions.
//
// A context set is a bundle of domain terms, key-value metadata hints, forced
// translation pairs, and free text that biases the transcription engine. Hosts
// build context sets ahead of time, attach any number of them to a session,
// and the attached sets are merged ([Merge]) into a single bounded
// [types.MergedContext] handed to the engine at stream start.
//
// Supported external input: a JSON document validated and normalised by
// [ImportJSON] before anything downstream may consume it.
package contextset

import (
	"time"

	"github.com/lingolive/lingolive/pkg/types"
)

// Set is a stored context set owned by a user (or anonymous when OwnerID is
// empty). The detail slices carry their own explicit sort order; ordering is
// applied at merge time, uniqueness of General keys is enforced at merge time
// rather than storage time.
type Set struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"user_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Text        string    `json:"text,omitempty"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Terms            []Term                   `json:"terms"`
	General          []types.GeneralPair      `json:"general"`
	TranslationTerms []OrderedTranslationTerm `json:"translation_terms"`
}

// Term is a single vocabulary term with its explicit sort position.
type Term struct {
	Term      string `json:"term"`
	SortOrder int    `json:"sort_order"`
}

// OrderedTranslationTerm is a forced translation pair with its explicit sort
// position within the owning set.
type OrderedTranslationTerm struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	SortOrder int    `json:"sort_order"`
}

// Attachment links a context set to a session. SortOrder controls merge
// priority: attachments are merged lowest sort order first, so the
// highest-ordered set wins key conflicts.
type Attachment struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ContextSetID string    `json:"context_set_id"`
	SortOrder    int       `json:"sort_order"`
	AddedAt      time.Time `json:"added_at"`
}

// FormData is the normalised shape of an imported or submitted context set.
// It is the only representation downstream code may consume after
// [ImportJSON]: strings are trimmed and absent arrays are empty, never nil.
type FormData struct {
	Name             string                  `json:"name"`
	Description      string                  `json:"description,omitempty"`
	Text             string                  `json:"text,omitempty"`
	IsPublic         bool                    `json:"is_public"`
	Terms            []string                `json:"terms"`
	General          []types.GeneralPair     `json:"general"`
	TranslationTerms []types.TranslationTerm `json:"translation_terms"`
}
