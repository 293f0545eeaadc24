package main

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Reasons the hub gives when it drops a session.
const (
	reasonShutdown      = "server shutdown"
	reasonSlowConsumer  = "slow consumer"
	reasonSnapshotLimit = "snapshot exceeds transport limit"
	reasonEncoding      = "snapshot encoding failed"
)

// SyncState is the position of a session in the sync protocol.
type SyncState int32

const (
	// StateJoining: connected, snapshot not yet written.
	StateJoining SyncState = iota
	// StateSynced: snapshot delivered; receives every later broadcast.
	StateSynced
	// StateClosed: the connection is gone or was dropped by the hub.
	StateClosed
)

func (s SyncState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live websocket connection registered with the hub. It owns
// no data; it only carries frames from the hub to the socket and client
// events from the socket to the hub.
type Session struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	send     chan frame
	maxFrame int64

	state     atomic.Int32
	closeOnce sync.Once
	reason    string
}

func newSession(conn *websocket.Conn, hub *Hub, sendBuffer int, maxFrame int64) *Session {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	return &Session{
		id:       uuid.NewString(),
		conn:     conn,
		hub:      hub,
		send:     make(chan frame, sendBuffer),
		maxFrame: maxFrame,
	}
}

// State reports where the session is in the sync protocol.
func (s *Session) State() SyncState {
	return SyncState(s.state.Load())
}

// fail closes the outbound queue. Only the hub goroutine calls it; the
// writer sees the closed queue and sends a close frame carrying reason.
func (s *Session) fail(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.send)
	})
}

func sessionID(s *Session) string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Session) readLoop() {
	defer func() {
		s.hub.Disconnect(s)
		_ = s.conn.Close()
	}()
	if s.maxFrame > 0 {
		s.conn.SetReadLimit(s.maxFrame)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("[clipboard] read message")
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		var ev clip.Envelope
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("[clipboard] undecodable frame")
			s.hub.metrics.dropped.Inc()
			continue
		}
		if ev.Event != clip.EventNewMessage {
			log.Debug().Str("session", s.id).Str("event", ev.Event).Msg("[clipboard] ignoring unknown event")
			continue
		}
		var m clip.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("[clipboard] undecodable message")
			s.hub.metrics.dropped.Inc()
			continue
		}
		s.hub.Submit(s, m)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.state.Store(int32(StateClosed))
		_ = s.conn.Close()
	}()
	for {
		select {
		case fr, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, closePayload(s.reason))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, fr.payload); err != nil {
				log.Debug().Err(err).Str("session", s.id).Msg("[clipboard] write message")
				return
			}
			if fr.initial {
				s.state.Store(int32(StateSynced))
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closePayload(reason string) []byte {
	switch reason {
	case "":
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	case reasonShutdown:
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	case reasonSnapshotLimit:
		return websocket.FormatCloseMessage(websocket.CloseMessageTooBig, reason)
	case reasonEncoding:
		return websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
	default:
		return websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
	}
}
