package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/habitsync/internal/engine"
)

const streamWriteTimeout = 5 * time.Second

// handleStatusStream upgrades to a websocket and writes one JSON Status
// per hub notification, starting with the current snapshot. Client
// messages are ignored. A slow client only ever sees the latest status.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("status stream upgrade failed", "error", err)
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())

	updates := make(chan engine.Status, 1)
	id := s.engine.Subscribe(func(st engine.Status) {
		select {
		case updates <- st:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- st:
		default:
		}
	})
	defer s.engine.Unsubscribe(id)

	if err := writeStatus(ctx, c, s.engine.Status(ctx)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case st := <-updates:
			if err := writeStatus(ctx, c, st); err != nil {
				slog.Debug("status stream write failed", "error", err)
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, c *websocket.Conn, st engine.Status) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, st)
}
