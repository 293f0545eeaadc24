package main

import (
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

const commandBufferSize = 256

// Hub owns the history and the set of connected sessions. Every event is run
// to completion on the hub goroutine, which gives all appends a single total
// order that snapshots and broadcast streams agree with.
type Hub struct {
	store    Store
	metrics  *metrics
	sessions map[*Session]struct{}

	commands chan func(*Hub)
	closing  chan struct{}
	done     chan struct{}
}

func NewHub(store Store, m *metrics) *Hub {
	h := &Hub{
		store:    store,
		metrics:  m,
		sessions: make(map[*Session]struct{}),
		commands: make(chan func(*Hub), commandBufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.commands:
			fn(h)
		case <-h.closing:
			h.drain()
			h.shutdown()
			return
		}
	}
}

// drain runs commands that were accepted before Close was called.
func (h *Hub) drain() {
	for {
		select {
		case fn := <-h.commands:
			fn(h)
		default:
			return
		}
	}
}

// enqueue hands fn to the hub goroutine. Commands are never dropped; the call
// blocks until there is room or the hub is closing.
func (h *Hub) enqueue(fn func(*Hub)) bool {
	select {
	case <-h.closing:
		return false
	default:
	}
	select {
	case h.commands <- fn:
		return true
	case <-h.closing:
		return false
	}
}

// Connect registers s for broadcasts and queues the current history as its
// initial-messages frame. Both happen in one hub step, so nothing broadcast
// later can overtake the snapshot and nothing in the snapshot is broadcast
// to s again.
func (h *Hub) Connect(s *Session) bool {
	return h.enqueue(func(h *Hub) {
		fr, err := snapshotFrame(h.store.Snapshot())
		if err != nil {
			log.Error().Err(err).Str("session", s.id).Msg("[clipboard] encode snapshot")
			s.fail(reasonEncoding)
			return
		}
		if s.maxFrame > 0 && int64(len(fr.payload)) > s.maxFrame {
			log.Warn().Str("session", s.id).Int("bytes", len(fr.payload)).Int64("limit", s.maxFrame).
				Msg("[clipboard] snapshot exceeds transport limit; dropping connection")
			h.metrics.joinFailures.Inc()
			s.fail(reasonSnapshotLimit)
			return
		}
		h.sessions[s] = struct{}{}
		h.metrics.sessions.Set(float64(len(h.sessions)))
		h.push(s, fr)
		log.Debug().Str("session", s.id).Int("sessions", len(h.sessions)).Msg("[clipboard] session joined")
	})
}

// Submit validates m and, when well formed, appends it and broadcasts it to
// every registered session including the sender. Malformed messages are
// logged and dropped without telling anyone.
func (h *Hub) Submit(from *Session, m clip.Message) {
	if err := m.Validate(); err != nil {
		log.Warn().Err(err).Str("session", sessionID(from)).Msg("[clipboard] dropping malformed message")
		h.metrics.dropped.Inc()
		return
	}
	h.enqueue(func(h *Hub) {
		idx := h.store.Append(m)
		h.metrics.appended.Inc()
		h.metrics.history.Set(float64(h.store.Len()))
		fr, err := broadcastFrame(m)
		if err != nil {
			log.Error().Err(err).Int("index", idx).Msg("[clipboard] encode broadcast")
			return
		}
		for _, s := range lo.Keys(h.sessions) {
			h.push(s, fr)
		}
		log.Debug().Int("index", idx).Str("type", string(m.Type)).Int("sessions", len(h.sessions)).
			Msg("[clipboard] message broadcast")
	})
}

// Disconnect removes s from the fan-out set.
func (h *Hub) Disconnect(s *Session) {
	h.enqueue(func(h *Hub) {
		h.remove(s, "")
	})
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	n, _ := ask(h, func(h *Hub) int { return len(h.sessions) })
	return n
}

// History returns the current snapshot as seen by the hub goroutine.
func (h *Hub) History() []clip.Message {
	msgs, ok := ask(h, func(h *Hub) []clip.Message { return h.store.Snapshot() })
	if !ok {
		return h.store.Snapshot()
	}
	return msgs
}

// Close stops the hub and closes every session's outbound queue so writers
// send a close frame. It waits for the hub goroutine to exit.
func (h *Hub) Close() {
	select {
	case <-h.closing:
	default:
		close(h.closing)
	}
	<-h.done
}

func (h *Hub) shutdown() {
	for s := range h.sessions {
		h.remove(s, reasonShutdown)
	}
}

// push queues fr for s. A session that cannot keep up is disconnected rather
// than skipped, so it never observes a gap; it will resync on reconnect.
func (h *Hub) push(s *Session, fr frame) {
	select {
	case s.send <- fr:
	default:
		log.Warn().Str("session", s.id).Msg("[clipboard] slow consumer; disconnecting")
		h.metrics.slowConsumers.Inc()
		h.remove(s, reasonSlowConsumer)
	}
}

func (h *Hub) remove(s *Session, reason string) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	h.metrics.sessions.Set(float64(len(h.sessions)))
	s.fail(reason)
}

// ask runs fn on the hub goroutine and waits for its result.
func ask[T any](h *Hub, fn func(*Hub) T) (T, bool) {
	reply := make(chan T, 1)
	var zero T
	if !h.enqueue(func(h *Hub) { reply <- fn(h) }) {
		return zero, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-h.done:
		return zero, false
	}
}
