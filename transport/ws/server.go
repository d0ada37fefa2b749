// Package ws carries the chat protocol over websocket connections. Each
// connection runs a read loop feeding the router and a write pump draining
// the session's sink; the core never touches the websocket directly.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wediscuss/protocol"
	"wediscuss/runtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type Server struct {
	router     *runtime.Router
	bufferSize int
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func NewServer(log *slog.Logger, router *runtime.Router, bufferSize int) *Server {
	return &Server{
		router:     router,
		bufferSize: bufferSize,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleWS upgrades the HTTP request and runs the connection until the
// client disconnects or the server shuts down.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	sink := NewChannelSink(s.bufferSize)
	session := s.router.NewSession(sink)

	go s.writePump(conn, sink)
	s.readLoop(r.Context(), conn, session, sink)
}

// readLoop decodes inbound envelopes and hands them to the router one at a
// time. Serial handling per connection is what keeps each client's requests
// and the resulting broadcasts in order.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *runtime.Session, sink *ChannelSink) {
	defer func() {
		s.router.Close(session)
		sink.Close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var req protocol.Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Debug("malformed envelope dropped", "error", err)
			continue
		}

		resp := s.router.Handle(ctx, session, req)
		select {
		case sink.Outbound <- resp:
		case <-sink.Done():
			return
		case <-ctx.Done():
			return
		}

		if resp.Kind == protocol.KindLogout && resp.Content == protocol.OutcomeSuccess {
			return
		}
	}
}

// writePump owns all writes to the connection, the pings included. When a
// write or ping fails it closes the sink as well as the wire, so a read
// loop blocked on a full outbound buffer is released instead of leaking.
func (s *Server) writePump(conn *websocket.Conn, sink *ChannelSink) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sink.Close()
		conn.Close()
	}()

	for {
		select {
		case e := <-sink.Outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		case <-sink.Done():
			// Flush what is already queued, then close the wire.
			for {
				select {
				case e := <-sink.Outbound:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteJSON(e); err != nil {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
