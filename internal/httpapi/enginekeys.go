package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// engineKey mints a short-lived engine credential for clients that open
// their own engine stream instead of sending audio through the server. The
// server's long-lived key never leaves the process.
func (a *API) engineKey(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	if _, authorized := claimsFor(c, sess.ID); !authorized {
		return
	}
	if !sess.IsActive() {
		fail(c, http.StatusConflict, codeEnded, "session has ended")
		return
	}
	if a.keys == nil {
		fail(c, http.StatusServiceUnavailable, codeUnavailable, "engine does not issue client keys")
		return
	}

	key, err := a.keys.TemporaryKey(c.Request.Context())
	if err != nil {
		a.logger.Error("temporary key request failed", "session_id", sess.ID, "err", err)
		fail(c, http.StatusBadGateway, codeUnavailable, "engine key service unavailable")
		return
	}
	ok(c, gin.H{"api_key": key})
}
