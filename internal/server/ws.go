package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/whoabuddy/claude-rpg/internal/protocol"
)

// wsTransport adapts one websocket connection to the broadcaster.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The service binds to localhost; browser viewers connect from
		// file:// or dev-server origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	id := s.deps.Clients.Add(wsTransport{conn: conn})
	s.deps.Clients.SendTo(id, protocol.New(protocol.TypeConnected, map[string]any{"sessionId": id}))

	// The read loop only exists for pong tracking and to notice closure;
	// all outbound traffic goes through the broadcaster's write loop.
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.deps.Clients.Remove(id, "connection closed")
			return
		}
		var inbound struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &inbound); err != nil {
			s.logger.Debug("unreadable client message", "client", id, "error", err)
			continue
		}
		switch inbound.Type {
		case "pong":
			s.deps.Clients.MarkPong(id)
		case "ping":
			s.deps.Clients.SendTo(id, protocol.New(protocol.TypePong, nil))
		default:
			s.logger.Debug("unexpected client message", "client", id, "type", inbound.Type)
		}
	}
}
