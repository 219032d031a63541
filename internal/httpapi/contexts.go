package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/contextset"
)

// maxContextBody caps uploaded context documents. Well past the engine
// limits, so legitimate sets never hit it.
const maxContextBody = 1 << 20

func readContextBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxContextBody))
	if err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "unreadable body")
		return nil, false
	}
	return raw, true
}

// setFromForm expands normalised form data into a stored set, assigning
// sort positions from document order.
func setFromForm(data *contextset.FormData, ownerID string) *contextset.Set {
	set := &contextset.Set{
		OwnerID:          ownerID,
		Name:             data.Name,
		Description:      data.Description,
		Text:             data.Text,
		IsPublic:         data.IsPublic,
		Terms:            make([]contextset.Term, 0, len(data.Terms)),
		General:          data.General,
		TranslationTerms: make([]contextset.OrderedTranslationTerm, 0, len(data.TranslationTerms)),
	}
	for i, term := range data.Terms {
		set.Terms = append(set.Terms, contextset.Term{Term: term, SortOrder: i})
	}
	for i, tt := range data.TranslationTerms {
		set.TranslationTerms = append(set.TranslationTerms, contextset.OrderedTranslationTerm{
			Source:    tt.Source,
			Target:    tt.Target,
			SortOrder: i,
		})
	}
	return set
}

// importContext validates a context document without storing anything. The
// full error list comes back regardless of outcome so the client can fix the
// document in one pass.
func (a *API) importContext(c *gin.Context) {
	raw, readable := readContextBody(c)
	if !readable {
		return
	}

	result := contextset.ImportJSON(raw)
	a.metrics.RecordContextImport(c.Request.Context(), result.Valid)
	ok(c, result)
}

func (a *API) contextTemplate(c *gin.Context) {
	ok(c, contextset.ExportTemplate())
}

// createContext validates and stores a context set. Same document format as
// import; the owner comes from the owner_id query parameter.
func (a *API) createContext(c *gin.Context) {
	raw, readable := readContextBody(c)
	if !readable {
		return
	}

	result := contextset.ImportJSON(raw)
	a.metrics.RecordContextImport(c.Request.Context(), result.Valid)
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidInput, "message": "invalid context document", "data": result})
		return
	}

	set := setFromForm(result.Data, c.Query("owner_id"))
	if err := a.store.CreateContextSet(c.Request.Context(), set); err != nil {
		a.failStore(c, err)
		return
	}
	created(c, gin.H{"context_set": set, "warnings": contextset.CheckLimits(*set)})
}

func (a *API) listContexts(c *gin.Context) {
	includePublic := c.Query("include_public") != "false"
	sets, err := a.store.ListContextSets(c.Request.Context(), c.Query("owner_id"), includePublic)
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"context_sets": sets})
}

func (a *API) getContext(c *gin.Context) {
	set, err := a.store.ContextSetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"context_set": set, "warnings": contextset.CheckLimits(*set)})
}

func (a *API) updateContext(c *gin.Context) {
	existing, err := a.store.ContextSetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.failStore(c, err)
		return
	}

	raw, readable := readContextBody(c)
	if !readable {
		return
	}
	result := contextset.ImportJSON(raw)
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidInput, "message": "invalid context document", "data": result})
		return
	}

	set := setFromForm(result.Data, existing.OwnerID)
	set.ID = existing.ID
	set.CreatedAt = existing.CreatedAt
	if err := a.store.UpdateContextSet(c.Request.Context(), set); err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"context_set": set, "warnings": contextset.CheckLimits(*set)})
}

func (a *API) deleteContext(c *gin.Context) {
	if err := a.store.DeleteContextSet(c.Request.Context(), c.Param("id")); err != nil {
		a.failStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── Session attachments ───────────────────────────────────────────────────────

type attachContextReq struct {
	ContextSetID string `json:"context_set_id"`
	SortOrder    int    `json:"sort_order"`
}

// attachContext links a stored set to the session. Host only: context
// controls what the engine is primed with for every speaker.
func (a *API) attachContext(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}
	if !claims.Host {
		fail(c, http.StatusForbidden, codeForbidden, "only the host can manage session context")
		return
	}

	var req attachContextReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}
	if req.ContextSetID == "" {
		fail(c, http.StatusBadRequest, codeInvalidInput, "context_set_id is required")
		return
	}
	// Attaching an unknown set must fail loudly, not at merge time.
	if _, err := a.store.ContextSetByID(c.Request.Context(), req.ContextSetID); err != nil {
		a.failStore(c, err)
		return
	}

	att := &contextset.Attachment{
		SessionID:    sess.ID,
		ContextSetID: req.ContextSetID,
		SortOrder:    req.SortOrder,
	}
	if err := a.store.AttachContextSet(c.Request.Context(), att); err != nil {
		a.failStore(c, err)
		return
	}
	created(c, gin.H{"attachment": att})
}

func (a *API) detachContext(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}
	if !claims.Host {
		fail(c, http.StatusForbidden, codeForbidden, "only the host can manage session context")
		return
	}

	if err := a.store.DetachContextSet(c.Request.Context(), sess.ID, c.Param("id")); err != nil {
		a.failStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) listSessionContexts(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}

	sets, attachments, err := a.store.SessionContextSets(c.Request.Context(), sess.ID)
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"context_sets": sets, "attachments": attachments})
}

// mergedContext previews the exact context the engine will receive when a
// recording starts, plus per-set limit warnings and a rough token estimate.
func (a *API) mergedContext(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}

	sets, _, err := a.store.SessionContextSets(c.Request.Context(), sess.ID)
	if err != nil {
		a.failStore(c, err)
		return
	}

	merged := contextset.Merge(sets)
	warnings := []string{}
	for _, set := range sets {
		for _, w := range contextset.CheckLimits(set) {
			warnings = append(warnings, set.Name+": "+w)
		}
	}

	ok(c, gin.H{
		"context":          merged,
		"warnings":         warnings,
		"estimated_tokens": contextset.EstimateTokens(merged),
	})
}
