// Package ws exposes the observer stream over websocket. Observers get
// the WELCOME/STATE/EVENT feed and may post CONTROL signals (skip input,
// dialogue completion) back into the frame loop.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marionette.dev/internal/protocol"
	"marionette.dev/internal/sim/runtime"
)

type Server struct {
	rt  *runtime.Runtime
	log *log.Logger

	queueSize int
	upgrader  websocket.Upgrader
}

func NewServer(rt *runtime.Runtime, logger *log.Logger) *Server {
	queue := rt.Config().ObserverQueue
	if queue <= 0 {
		queue = 16
	}
	s := &Server{
		rt:        rt,
		log:       logger,
		queueSize: queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeControl {
				continue
			}
			var ctl protocol.ControlMsg
			if err := json.Unmarshal(msg, &ctl); err != nil {
				continue
			}
			if ctl.ProtocolVersion != protocol.Version {
				continue
			}
			s.rt.Inbox() <- runtime.Control{Op: ctl.Op, Key: ctl.Key}
		}

		// Cleanup.
		s.rt.ObserverLeave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	sessionID = uuid.NewString()
	out = make(chan []byte, s.queueSize)

	respCh := make(chan protocol.WelcomeMsg, 1)
	s.rt.ObserverJoin() <- runtime.ObserverJoinRequest{
		SessionID: sessionID,
		Out:       out,
		Resp:      respCh,
	}
	welcome := <-respCh

	if err := writeJSON(conn, welcome); err != nil {
		s.rt.ObserverLeave() <- sessionID
		return "", nil
	}
	if s.log != nil {
		s.log.Printf("observer joined session=%s client=%s", sessionID, hello.ClientName)
	}
	return sessionID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
