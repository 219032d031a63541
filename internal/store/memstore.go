package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/lingolive/lingolive/internal/contextset"
	"github.com/lingolive/lingolive/pkg/types"
)

// Compile-time assertion that MemStore satisfies the full Store contract.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store] for tests
// and local development. Sequence allocation uses the same per-session
// counter semantics as the PostgreSQL store.
type MemStore struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	participants map[string]*Participant
	transcripts  map[string][]types.Transcript // keyed by session ID, append order
	nextSequence map[string]int64              // per-session sequence counter
	contextSets  map[string]*contextset.Set
	attachments  map[string][]contextset.Attachment // keyed by session ID
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:     make(map[string]*Session),
		participants: make(map[string]*Participant),
		transcripts:  make(map[string][]types.Transcript),
		nextSequence: make(map[string]int64),
		contextSets:  make(map[string]*contextset.Set),
		attachments:  make(map[string][]contextset.Attachment),
	}
}

// ── sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [SessionStore.CreateSession].
func (s *MemStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := strings.ToUpper(sess.Code)
	for _, existing := range s.sessions {
		if existing.Code == code {
			return ErrCodeTaken
		}
	}

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	sess.Code = code

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// SessionByCode implements [SessionStore.SessionByCode].
func (s *MemStore) SessionByCode(_ context.Context, code string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.ToUpper(code)
	for _, sess := range s.sessions {
		if sess.Code == code {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SessionByID implements [SessionStore.SessionByID].
func (s *MemStore) SessionByID(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// UpdateSession implements [SessionStore.UpdateSession].
func (s *MemStore) UpdateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = sess.Title
	existing.Description = sess.Description
	existing.Visibility = sess.Visibility
	return nil
}

// EndSession implements [SessionStore.EndSession].
func (s *MemStore) EndSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if sess.Status == SessionEnded {
		return nil
	}
	sess.Status = SessionEnded
	sess.EndedAt = at
	return nil
}

// ListPublicSessions implements [SessionStore.ListPublicSessions].
func (s *MemStore) ListPublicSessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if sess.Visibility == VisibilityPublic && sess.IsActive() {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ── participants ─────────────────────────────────────────────────────────────

// AddParticipant implements [ParticipantStore.AddParticipant].
func (s *MemStore) AddParticipant(_ context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[p.SessionID]; !ok {
		return ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

// ParticipantByID implements [ParticipantStore.ParticipantByID].
func (s *MemStore) ParticipantByID(_ context.Context, id string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ActiveParticipants implements [ParticipantStore.ActiveParticipants].
func (s *MemStore) ActiveParticipants(_ context.Context, sessionID string) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.IsActive() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// MarkLeft implements [ParticipantStore.MarkLeft].
func (s *MemStore) MarkLeft(_ context.Context, participantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return ErrNotFound
	}
	if p.LeftAt.IsZero() {
		p.LeftAt = at
	}
	return nil
}

// ── transcripts ──────────────────────────────────────────────────────────────

// Append implements [TranscriptStore.Append].
func (s *MemStore) Append(_ context.Context, req AppendRequest) (*types.Transcript, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !sess.IsActive() {
		return nil, ErrSessionEnded
	}

	s.nextSequence[req.SessionID]++
	t := types.Transcript{
		ID:              ulid.Make().String(),
		SessionID:       req.SessionID,
		ParticipantID:   req.ParticipantID,
		ParticipantName: req.ParticipantName,
		OriginalText:    req.OriginalText,
		TranslatedText:  req.TranslatedText,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
		Sequence:        s.nextSequence[req.SessionID],
		CreatedAt:       time.Now().UTC(),
	}
	s.transcripts[req.SessionID] = append(s.transcripts[req.SessionID], t)
	return &t, nil
}

// ListFinal implements [TranscriptStore.ListFinal].
func (s *MemStore) ListFinal(_ context.Context, sessionID string) ([]types.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.transcripts[sessionID]
	out := make([]types.Transcript, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ── context sets ─────────────────────────────────────────────────────────────

// CreateContextSet implements [ContextStore.CreateContextSet].
func (s *MemStore) CreateContextSet(_ context.Context, set *contextset.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.ID == "" {
		set.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if set.CreatedAt.IsZero() {
		set.CreatedAt = now
	}
	set.UpdatedAt = now

	cp := copySet(set)
	s.contextSets[set.ID] = &cp
	return nil
}

// ContextSetByID implements [ContextStore.ContextSetByID].
func (s *MemStore) ContextSetByID(_ context.Context, id string) (*contextset.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.contextSets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copySet(set)
	return &cp, nil
}

// ListContextSets implements [ContextStore.ListContextSets].
func (s *MemStore) ListContextSets(_ context.Context, ownerID string, includePublic bool) ([]contextset.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contextset.Set
	for _, set := range s.contextSets {
		if (ownerID != "" && set.OwnerID == ownerID) || (includePublic && set.IsPublic) {
			out = append(out, copySet(set))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// UpdateContextSet implements [ContextStore.UpdateContextSet].
func (s *MemStore) UpdateContextSet(_ context.Context, set *contextset.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contextSets[set.ID]
	if !ok {
		return ErrNotFound
	}
	set.CreatedAt = existing.CreatedAt
	set.UpdatedAt = time.Now().UTC()
	cp := copySet(set)
	s.contextSets[set.ID] = &cp
	return nil
}

// DeleteContextSet implements [ContextStore.DeleteContextSet].
func (s *MemStore) DeleteContextSet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contextSets[id]; !ok {
		return ErrNotFound
	}
	delete(s.contextSets, id)
	for sessionID, atts := range s.attachments {
		kept := atts[:0]
		for _, att := range atts {
			if att.ContextSetID != id {
				kept = append(kept, att)
			}
		}
		s.attachments[sessionID] = kept
	}
	return nil
}

// AttachContextSet implements [ContextStore.AttachContextSet].
func (s *MemStore) AttachContextSet(_ context.Context, att *contextset.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[att.SessionID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.contextSets[att.ContextSetID]; !ok {
		return ErrNotFound
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.AddedAt.IsZero() {
		att.AddedAt = time.Now().UTC()
	}
	s.attachments[att.SessionID] = append(s.attachments[att.SessionID], *att)
	return nil
}

// DetachContextSet implements [ContextStore.DetachContextSet].
func (s *MemStore) DetachContextSet(_ context.Context, sessionID, contextSetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	atts := s.attachments[sessionID]
	kept := atts[:0]
	removed := false
	for _, att := range atts {
		if att.ContextSetID == contextSetID {
			removed = true
			continue
		}
		kept = append(kept, att)
	}
	if !removed {
		return ErrNotFound
	}
	s.attachments[sessionID] = kept
	return nil
}

// SessionContextSets implements [ContextStore.SessionContextSets].
func (s *MemStore) SessionContextSets(_ context.Context, sessionID string) ([]contextset.Set, []contextset.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	atts := make([]contextset.Attachment, len(s.attachments[sessionID]))
	copy(atts, s.attachments[sessionID])
	sort.Slice(atts, func(i, j int) bool { return atts[i].SortOrder < atts[j].SortOrder })

	sets := make([]contextset.Set, 0, len(atts))
	for _, att := range atts {
		if set, ok := s.contextSets[att.ContextSetID]; ok {
			sets = append(sets, copySet(set))
		}
	}
	return sets, atts, nil
}

// copySet deep-copies a context set so callers cannot mutate stored state.
func copySet(set *contextset.Set) contextset.Set {
	cp := *set
	cp.Terms = append([]contextset.Term(nil), set.Terms...)
	cp.General = append([]types.GeneralPair(nil), set.General...)
	cp.TranslationTerms = append([]contextset.OrderedTranslationTerm(nil), set.TranslationTerms...)
	return cp
}
