package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/session"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

type translationReq struct {
	Mode           string `json:"mode"`
	TargetLanguage string `json:"target_language"`
	LanguageA      string `json:"language_a"`
	LanguageB      string `json:"language_b"`
}

func (t translationReq) config() types.TranslationConfig {
	return types.TranslationConfig{
		Mode:           types.TranslationMode(t.Mode),
		TargetLanguage: t.TargetLanguage,
		LanguageA:      t.LanguageA,
		LanguageB:      t.LanguageB,
	}
}

type createSessionReq struct {
	HostName    string         `json:"host_name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Visibility  string         `json:"visibility"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Translation translationReq `json:"translation"`
}

// createSession makes a new session and hands the caller a host token. The
// token is returned exactly once; there is no recovery endpoint.
func (a *API) createSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if req.HostName == "" {
		fail(c, http.StatusBadRequest, codeInvalidInput, "host_name is required")
		return
	}
	cfg := req.Translation.config()
	if !cfg.Mode.IsValid() {
		fail(c, http.StatusBadRequest, codeInvalidInput, "invalid translation mode")
		return
	}

	sess, host, err := a.manager.Create(c.Request.Context(), session.CreateParams{
		HostName:    req.HostName,
		Title:       req.Title,
		Description: req.Description,
		Translation: cfg,
		Visibility:  store.Visibility(req.Visibility),
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		a.failStore(c, err)
		return
	}

	token, err := a.issuer.Issue(sess.ID, host.ID, true)
	if err != nil {
		a.failStore(c, err)
		return
	}

	created(c, gin.H{"session": sess, "participant": host, "token": token})
}

func (a *API) listPublicSessions(c *gin.Context) {
	sessions, err := a.store.ListPublicSessions(c.Request.Context())
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"sessions": sessions})
}

func (a *API) getSession(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	ok(c, gin.H{"session": sess})
}

type joinSessionReq struct {
	Name              string `json:"name"`
	PreferredLanguage string `json:"preferred_language"`
}

func (a *API) joinSession(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}

	var req joinSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if req.Name == "" {
		fail(c, http.StatusBadRequest, codeInvalidInput, "name is required")
		return
	}

	sess, participant, err := a.manager.Join(c.Request.Context(), sess.Code, req.Name, req.PreferredLanguage)
	if err != nil {
		a.failStore(c, err)
		return
	}

	token, err := a.issuer.Issue(sess.ID, participant.ID, false)
	if err != nil {
		a.failStore(c, err)
		return
	}

	ok(c, gin.H{"session": sess, "participant": participant, "token": token})
}

type updateSessionReq struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Visibility  *string `json:"visibility"`
}

// updateSession changes the presentational fields. Translation settings are
// immutable once participants may have joined under them.
func (a *API) updateSession(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}
	if !claims.Host {
		fail(c, http.StatusForbidden, codeForbidden, "only the host can update a session")
		return
	}

	var req updateSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if req.Title != nil {
		sess.Title = *req.Title
	}
	if req.Description != nil {
		sess.Description = *req.Description
	}
	if req.Visibility != nil {
		v := store.Visibility(*req.Visibility)
		if v != store.VisibilityPublic && v != store.VisibilityPrivate {
			fail(c, http.StatusBadRequest, codeInvalidInput, "invalid visibility")
			return
		}
		sess.Visibility = v
	}

	if err := a.store.UpdateSession(c.Request.Context(), sess); err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"session": sess})
}

// endSession soft-ends the session. Host token required; ending twice is a
// no-op, matching the store semantics.
func (a *API) endSession(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}
	if !claims.Host {
		fail(c, http.StatusForbidden, codeForbidden, "only the host can end a session")
		return
	}

	if err := a.manager.End(c.Request.Context(), sess.ID); err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"session_id": sess.ID})
}

func (a *API) leaveSession(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}

	if err := a.manager.Leave(c.Request.Context(), claims.ParticipantID); err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"participant_id": claims.ParticipantID})
}

func (a *API) listParticipants(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}

	participants, err := a.store.ActiveParticipants(c.Request.Context(), sess.ID)
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"participants": participants})
}
