package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/manash/timebooth/internal/session"
)

const wsWriteTimeout = 10 * time.Second

// handleStateStream sends the current snapshot on connect and then one per
// state change. A slow client only ever sees the latest snapshot.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("failed to accept websocket", slog.Any("error", err))
		return
	}
	defer ws.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx := ws.CloseRead(r.Context())

	updates := make(chan session.Snapshot, 1)
	unsubscribe := s.controller.Subscribe(func(snap session.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	s.logger.Debug("state stream opened", slog.String("remote", r.RemoteAddr))
	if err := writeSnapshot(ctx, ws, s.controller.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("state stream closed", slog.String("remote", r.RemoteAddr))
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case snap := <-updates:
			if err := writeSnapshot(ctx, ws, snap); err != nil {
				s.logger.Debug("state stream write failed", slog.Any("error", err))
				return
			}
		}
	}
}

func writeSnapshot(ctx context.Context, ws *websocket.Conn, snap session.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, snap)
}
