package main

import (
	"bytes"
	"encoding/json"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

// ServerEvent is pushed to clients. Clients decode it as a clip.Envelope.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// frame is one encoded websocket text message. initial marks the snapshot
// frame so the writer can complete the Joining -> Synced transition.
type frame struct {
	payload []byte
	initial bool
}

// encodeEvent marshals ev without HTML escaping so <, > and & reach clients
// in their original form.
func encodeEvent(ev ServerEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func snapshotFrame(history []clip.Message) (frame, error) {
	if history == nil {
		history = []clip.Message{}
	}
	payload, err := encodeEvent(ServerEvent{Event: clip.EventInitialMessages, Data: history})
	return frame{payload: payload, initial: true}, err
}

func broadcastFrame(m clip.Message) (frame, error) {
	payload, err := encodeEvent(ServerEvent{Event: clip.EventMessageReceived, Data: m})
	return frame{payload: payload}, err
}
