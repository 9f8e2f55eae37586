package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/session"
)

// handleUpdates streams session updates over a websocket. The current
// state is sent first, then one message per saved step. The server only
// writes; client messages are discarded.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, unsubscribe := s.updates.Subscribe(id)
	defer unsubscribe()

	state, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, id, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(s.cfg.CORSOrigins),
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	logger := s.logger.With(zap.String("session_id", id))
	logger.Debug("websocket connected")

	if err := s.send(ctx, conn, session.Update{
		Type:            session.UpdateType,
		SessionID:       id,
		State:           state,
		WaitingForHuman: state.WaitingForHuman,
		PendingQuestion: state.PendingQuestion,
	}); err != nil {
		logger.Debug("websocket write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket closed")
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription ended")
				return
			}
			if err := s.send(ctx, conn, u); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Debug("websocket write failed", zap.Error(err))
				}
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, u session.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// originHosts converts allowed origins to the host patterns websocket
// origin checks expect.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
