package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/lingolive/lingolive/internal/session"
)

// wsControl is a text frame from the client. Binary frames carry raw PCM
// audio and have no envelope.
type wsControl struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// wsError is pushed to the client when a control message fails. Transcript
// and preview events use the [realtime.Event] shape directly.
type wsError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// sessionStream is the bidirectional WebSocket for one participant: audio
// and start/stop control up, preview and transcript events down. The token
// arrives as a query parameter since browsers cannot set headers on upgrade
// requests.
//
// A recording started over this socket lives only as long as the socket.
func (a *API) sessionStream(c *gin.Context) {
	sess, found := a.lookupSession(c)
	if !found {
		return
	}
	claims, authorized := claimsFor(c, sess.ID)
	if !authorized {
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.logger.Warn("websocket accept failed", "session_id", sess.ID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := c.Request.Context()
	log := a.logger.With("session_id", sess.ID, "participant_id", claims.ParticipantID)

	sub, err := a.hub.Subscribe(ctx, sess.ID, claims.ParticipantID)
	if err != nil {
		log.Error("subscribe failed", "err", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	a.metrics.ActiveSubscribers.Add(ctx, 1)
	defer a.metrics.ActiveSubscribers.Add(context.WithoutCancel(ctx), -1)

	// Late joiners see what everyone is currently saying without waiting for
	// the next token batch.
	for _, preview := range a.hub.Previews(sess.ID) {
		if preview.ParticipantID == claims.ParticipantID {
			continue
		}
		p := preview
		if err := wsjson.Write(ctx, conn, gin.H{"type": "preview", "session_id": sess.ID, "preview": &p}); err != nil {
			return
		}
	}

	// Writer: hub events out to the client. Closes the connection on write
	// failure so the reader unblocks too.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range sub.Events() {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}
		}
	}()

	a.readLoop(ctx, log, conn, sess.ID, claims.ParticipantID)

	sub.Close()
	<-writerDone
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop consumes client frames until the connection drops. A recording
// started here is stopped before returning.
func (a *API) readLoop(ctx context.Context, log *slog.Logger, conn *websocket.Conn, sessionID, participantID string) {
	var rec *session.Recording
	defer func() {
		if rec != nil {
			rec.Stop()
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if rec == nil {
				continue // audio before start is dropped
			}
			if err := rec.SendAudio(data); err != nil {
				log.Warn("audio forward failed", "err", err)
				_ = wsjson.Write(ctx, conn, wsError{Type: "error", Message: "recording stream failed"})
				rec.Stop()
				rec = nil
			}

		case websocket.MessageText:
			var ctl wsControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				_ = wsjson.Write(ctx, conn, wsError{Type: "error", Message: "invalid control message"})
				continue
			}

			switch ctl.Type {
			case "start":
				if rec != nil {
					rec.Stop()
				}
				rec, err = a.manager.StartRecording(ctx, sessionID, participantID, session.StreamOptions{
					SampleRate: ctl.SampleRate,
					Channels:   ctl.Channels,
				})
				if err != nil {
					log.Error("recording start failed", "err", err)
					_ = wsjson.Write(ctx, conn, wsError{Type: "error", Message: "could not start recording"})
					continue
				}
				_ = wsjson.Write(ctx, conn, wsControl{Type: "started"})

			case "stop":
				if rec != nil {
					rec.Stop()
					rec = nil
				}
				_ = wsjson.Write(ctx, conn, wsControl{Type: "stopped"})

			default:
				_ = wsjson.Write(ctx, conn, wsError{Type: "error", Message: "unknown control type " + ctl.Type})
			}
		}
	}
}
