package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/store"
)

func (a *API) listTranscripts(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}

	transcripts, err := a.store.ListFinal(c.Request.Context(), sess.ID)
	if err != nil {
		a.failStore(c, err)
		return
	}
	ok(c, gin.H{"transcripts": transcripts})
}

type appendTranscriptReq struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// appendTranscript stores a finalized utterance on behalf of the calling
// participant. The server pipeline is the usual writer; this endpoint exists
// for clients that transcribe locally and upload finals themselves.
func (a *API) appendTranscript(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}

	var req appendTranscriptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidJSON, "invalid json")
		return
	}

	participant, err := a.store.ParticipantByID(c.Request.Context(), claims.ParticipantID)
	if err != nil {
		a.failStore(c, err)
		return
	}

	start := time.Now()
	row, err := a.store.Append(c.Request.Context(), store.AppendRequest{
		SessionID:       sess.ID,
		ParticipantID:   participant.ID,
		ParticipantName: participant.Name,
		OriginalText:    req.OriginalText,
		TranslatedText:  req.TranslatedText,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordAppend(c.Request.Context(), status, time.Since(start).Seconds())
	if err != nil {
		a.failStore(c, err)
		return
	}

	if err := a.hub.PublishTranscript(c.Request.Context(), sess.ID, *row); err != nil {
		a.logger.Warn("transcript broadcast failed", "session_id", sess.ID, "err", err)
	}

	created(c, gin.H{"transcript": row})
}
