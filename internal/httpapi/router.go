package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lingolive/lingolive/internal/health"
	"github.com/lingolive/lingolive/internal/observe"
)

// NewRouter assembles the full HTTP surface: health probes, Prometheus
// metrics, and the versioned API. Session subroutes accept either a session
// ID or a join code in the :sid segment.
func NewRouter(a *API, hc *health.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(observe.Middleware(a.metrics))

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, codeNoMethod, "method not allowed")
	})

	if hc != nil {
		hc.Register(r)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// Public surface: creating and discovering sessions needs no token, and
	// join is how you get one.
	v1.POST("/sessions", a.createSession)
	v1.GET("/sessions", a.listPublicSessions)
	v1.GET("/sessions/:sid", a.getSession)
	v1.POST("/sessions/:sid/join", a.joinSession)
	v1.GET("/sessions/:sid/transcripts", a.listTranscripts)
	v1.GET("/sessions/:sid/participants", a.listParticipants)

	// Context sets are standalone resources; ownership is advisory, not
	// authenticated.
	contexts := v1.Group("/contexts")
	contexts.POST("", a.createContext)
	contexts.GET("", a.listContexts)
	contexts.GET("/template", a.contextTemplate)
	contexts.POST("/import", a.importContext)
	contexts.GET("/:id", a.getContext)
	contexts.PUT("/:id", a.updateContext)
	contexts.DELETE("/:id", a.deleteContext)

	// Everything below acts as a specific participant and needs the session
	// token issued at create or join time.
	authed := v1.Group("/sessions/:sid")
	authed.Use(AuthRequired(a.issuer))
	authed.PATCH("", a.updateSession)
	authed.POST("/end", a.endSession)
	authed.POST("/leave", a.leaveSession)
	authed.POST("/transcripts", a.appendTranscript)
	authed.GET("/contexts", a.listSessionContexts)
	authed.POST("/contexts", a.attachContext)
	authed.DELETE("/contexts/:id", a.detachContext)
	authed.GET("/context", a.mergedContext)
	authed.POST("/engine-key", a.engineKey)
	authed.GET("/stream", a.sessionStream)

	return r
}
