package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the dashboard is served cross-origin in development
		return true
	},
}

const (
	writeWait = 10 * time.Second
	pingWait  = 30 * time.Second
)

// StreamProgress upgrades to a websocket and streams the job's progress
// events. The connection closes after the terminal event is delivered.
func (h *Handlers) StreamProgress(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// reader goroutine notices client disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// all writes stay on this goroutine; the connection allows only one
	// concurrent writer
	send := func(event jobs.ProgressEvent) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(event)
	}

	// current state first so late subscribers see where the job stands
	if err := send(jobs.EventFor(job)); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	events := make(chan jobs.ProgressEvent, 16)
	go func() {
		defer cancel()
		err := h.Store.SubscribeProgress(ctx, job.ID, func(event jobs.ProgressEvent) {
			select {
			case events <- event:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			h.Logger.WithError(err).WithField("job_id", job.ID).Warn("Progress subscription ended with error")
		}
	}()

	pings := time.NewTicker(pingWait)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event := <-events:
			if err := send(event); err != nil {
				return
			}
			if event.Status.Terminal() {
				return
			}
		}
	}
}
