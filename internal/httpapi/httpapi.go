// Package httpapi exposes the server's REST and WebSocket surface.
//
// Every response uses a uniform envelope: {"code": 0, "message": "ok",
// "data": …} on success, a non-zero code with a human-readable message on
// failure. Error codes group by the HTTP status they accompany (10xxx bad
// request, 401xx auth, 403xx forbidden, 404xx missing, 409xx conflict,
// 500xx server).
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/auth"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/internal/session"
	"github.com/lingolive/lingolive/internal/store"
)

// Error codes carried in the response envelope.
const (
	codeInvalidJSON  = 10001
	codeInvalidInput = 10002
	codeUnauthorized = 40101
	codeForbidden    = 40301
	codeNotFound     = 40401
	codeNoMethod     = 40501
	codeEnded        = 40901
	codeInternal     = 50001
	codeUnavailable  = 50301
)

// KeyMinter mints short-lived engine credentials for clients that connect to
// the speech engine directly. Implemented by the soniox provider; nil when
// the configured engine has no such concept.
type KeyMinter interface {
	TemporaryKey(ctx context.Context) (string, error)
}

// API holds the dependencies shared by all handlers.
type API struct {
	manager *session.Manager
	store   store.Store
	hub     *realtime.Hub
	issuer  *auth.Issuer
	keys    KeyMinter
	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewAPI wires the handler set. keys may be nil; the engine key endpoint
// then reports the feature unavailable. logger may be nil to use
// [slog.Default].
func NewAPI(mgr *session.Manager, st store.Store, hub *realtime.Hub, issuer *auth.Issuer, keys KeyMinter, metrics *observe.Metrics, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &API{
		manager: mgr,
		store:   st,
		hub:     hub,
		issuer:  issuer,
		keys:    keys,
		metrics: metrics,
		logger:  logger.With("component", "httpapi"),
	}
}

// ── Response envelope ─────────────────────────────────────────────────────────

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"code": 0, "message": "ok", "data": data})
}

func fail(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg, "data": nil})
}

// failStore maps the store's sentinel errors onto the envelope. Unknown
// errors become an opaque 500; the detail goes to the log, not the client.
func (a *API) failStore(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, store.ErrSessionEnded), errors.Is(err, session.ErrSessionEnded):
		fail(c, http.StatusConflict, codeEnded, "session has ended")
	case errors.Is(err, store.ErrInvalidAppend), errors.Is(err, session.ErrLanguageMismatch):
		fail(c, http.StatusBadRequest, codeInvalidInput, err.Error())
	default:
		a.logger.Error("request failed", "path", c.FullPath(), "err", err)
		fail(c, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// ── Request helpers ───────────────────────────────────────────────────────────

// lookupSession resolves the :sid path parameter, accepting either a record
// ID or a join code so clients never need to know which one they hold.
func (a *API) lookupSession(c *gin.Context) (*store.Session, bool) {
	ref := c.Param("sid")
	sess, err := a.store.SessionByID(c.Request.Context(), ref)
	if errors.Is(err, store.ErrNotFound) {
		sess, err = a.store.SessionByCode(c.Request.Context(), ref)
	}
	if err != nil {
		a.failStore(c, err)
		return nil, false
	}
	return sess, true
}

// claimsFor returns the verified claims stored by [AuthRequired] and checks
// that they belong to sessionID. Tokens are per-session capabilities, so a
// valid token for another session is still forbidden here.
func claimsFor(c *gin.Context, sessionID string) (*auth.Claims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		fail(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
		return nil, false
	}
	if claims.SessionID != sessionID {
		fail(c, http.StatusForbidden, codeForbidden, "token is for a different session")
		return nil, false
	}
	return claims, true
}
