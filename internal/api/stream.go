package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-rockfall-alerts/internal/apperr"
	"github.com/mr1hm/go-rockfall-alerts/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// stream pushes alert lifecycle events to a websocket client until either side goes away.
func (h *Handler) stream(c *gin.Context) {
	if h.broadcaster == nil {
		respondError(c, apperr.ErrInternal.WithMessage("event stream is not enabled"))
		return
	}

	floor := -1
	if s := c.Query("min_severity"); s != "" {
		sev, err := models.ParseSeverity(s)
		if err != nil {
			respondError(c, apperr.ErrInvalidInput.WithMessage("invalid min_severity: %q", s))
			return
		}
		floor = sev.Rank()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		slog.Warn("websocket upgrade failed", "error", err, "request_id", c.GetString(requestIDKey))
		return
	}
	defer conn.Close()

	id, events := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	slog.Info("websocket client subscribed", "subscriber_id", id)

	// the read loop only exists to notice the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			slog.Info("websocket client disconnected", "subscriber_id", id)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if e.Alert == nil || e.Alert.Severity.Rank() < floor {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				slog.Warn("websocket write failed", "subscriber_id", id, "error", err)
				return
			}
		}
	}
}
