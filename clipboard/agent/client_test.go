package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

// fakeHub speaks the clipboard protocol with a single shared history.
type fakeHub struct {
	mu       sync.Mutex
	history  []clip.Message
	conns    map[*websocket.Conn]struct{}
	uploads  int
	failPost bool
}

func newFakeHub(t *testing.T, history ...clip.Message) (*fakeHub, *httptest.Server) {
	t.Helper()
	h := &fakeHub{history: history, conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("POST /upload", h.serveUpload)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *fakeHub) payload(event string, v any) clip.Envelope {
	data, _ := json.Marshal(v)
	return clip.Envelope{Event: event, Data: data}
}

func (h *fakeHub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := r.Context()
	h.mu.Lock()
	h.conns[ws] = struct{}{}
	snap := append([]clip.Message{}, h.history...)
	err = wsjson.Write(ctx, ws, h.payload(clip.EventInitialMessages, snap))
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, ws)
		h.mu.Unlock()
		_ = ws.CloseNow()
	}()
	if err != nil {
		return
	}
	for {
		var env clip.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		var m clip.Message
		if env.Event != clip.EventNewMessage || json.Unmarshal(env.Data, &m) != nil {
			continue
		}
		h.mu.Lock()
		h.history = append(h.history, m)
		for c := range h.conns {
			_ = wsjson.Write(ctx, c, h.payload(clip.EventMessageReceived, m))
		}
		h.mu.Unlock()
	}
}

func (h *fakeHub) serveUpload(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	fail := h.failPost
	h.uploads++
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"error":"file too large"}`))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"No file uploaded"}`))
		return
	}
	defer f.Close()
	_ = json.NewEncoder(w).Encode(clip.FileDescriptor{
		Filename:     "1-abc-" + hdr.Filename,
		OriginalName: hdr.Filename,
		Size:         hdr.Size,
		MimeType:     hdr.Header.Get("Content-Type"),
		Path:         "/uploads/1-abc-" + hdr.Filename,
	})
}

// kick drops every open connection.
func (h *fakeHub) kick() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusTryAgainLater, "slow consumer")
	}
}

func (h *fakeHub) messages() []clip.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]clip.Message{}, h.history...)
}

func startClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(baseURL, append([]Option{WithClock(func() time.Time { return testNow })}, opts...)...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	require.NoError(t, c.WaitSynced(waitCtx))
	return c
}

func TestClient_SnapshotAndBroadcast(t *testing.T) {
	req := require.New(t)
	_, srv := newFakeHub(t, text("old"))

	var mu sync.Mutex
	var received []clip.Message
	c := startClient(t, srv.URL, OnMessage(func(m clip.Message) {
		mu.Lock()
		received = append(received, m)
		mu.Unlock()
	}))
	req.Equal(StateConnected, c.State())
	req.Equal([]string{"old"}, c.Feed().Texts())

	req.NoError(c.SendText(context.Background(), "  new  "))

	req.Eventually(func() bool { return c.Feed().Len() == 2 }, 3*time.Second, 10*time.Millisecond)
	req.Equal([]string{"new", "old"}, c.Feed().Texts())
	mu.Lock()
	defer mu.Unlock()
	req.Equal([]clip.Message{text("new")}, received)
}

func TestClient_EmptyTextIsNotSent(t *testing.T) {
	req := require.New(t)
	hub, srv := newFakeHub(t)
	c := startClient(t, srv.URL)

	req.ErrorIs(c.SendText(context.Background(), " \n\t "), ErrEmptyText)
	req.Empty(hub.messages())
}

func TestClient_NotConnected(t *testing.T) {
	req := require.New(t)
	c, err := NewClient("http://127.0.0.1:1")
	req.NoError(err)
	req.Equal(StateDisconnected, c.State())

	req.ErrorIs(c.SendText(context.Background(), "hi"), ErrNotConnected)
	_, err = c.SendFile(context.Background(), "does-not-matter", nil)
	req.ErrorIs(err, ErrNotConnected)
}

func TestClient_ReconnectResyncs(t *testing.T) {
	req := require.New(t)
	hub, srv := newFakeHub(t, text("a"))
	var mu sync.Mutex
	snapshots := 0
	c := startClient(t, srv.URL,
		WithReconnectDelay(20*time.Millisecond),
		OnSnapshot(func([]clip.Message) {
			mu.Lock()
			snapshots++
			mu.Unlock()
		}),
	)
	req.NoError(c.SendText(context.Background(), "b"))
	req.Eventually(func() bool { return c.Feed().Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	// When the hub drops the connection
	hub.kick()

	// Then the client reconnects and rebuilds the feed from the snapshot
	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return snapshots >= 2 && c.State() == StateConnected
	}, 3*time.Second, 10*time.Millisecond)
	req.Equal([]string{"b", "a"}, c.Feed().Texts())
}

func TestClient_SendFile(t *testing.T) {
	req := require.New(t)
	hub, srv := newFakeHub(t)
	c := startClient(t, srv.URL)

	path := filepath.Join(t.TempDir(), "notes.txt")
	content := []byte("some notes to share")
	req.NoError(os.WriteFile(path, content, 0o600))

	var last, total atomic.Int64
	fd, err := c.SendFile(context.Background(), path, func(sent, tot int64) {
		last.Store(sent)
		total.Store(tot)
	})
	req.NoError(err)
	req.Equal("notes.txt", fd.OriginalName)
	req.Equal(int64(len(content)), fd.Size)
	req.Equal(int64(len(content)), last.Load())
	req.Equal(int64(len(content)), total.Load())

	req.Eventually(func() bool { return c.Feed().Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	got := c.Feed().Items()[0]
	req.Equal(clip.KindFile, got.Type)
	req.Equal(fd, *got.File)
	req.Len(hub.messages(), 1)
}

func TestClient_SendFileUploadFailure(t *testing.T) {
	req := require.New(t)
	hub, srv := newFakeHub(t)
	hub.failPost = true
	c := startClient(t, srv.URL)

	path := filepath.Join(t.TempDir(), "big.bin")
	req.NoError(os.WriteFile(path, []byte("xx"), 0o600))

	_, err := c.SendFile(context.Background(), path, nil)
	var upErr *UploadError
	req.ErrorAs(err, &upErr)
	req.Equal(http.StatusRequestEntityTooLarge, upErr.Status)
	req.Equal("file too large", upErr.Message)

	// no message is emitted for a failed upload
	req.Empty(hub.messages())
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	require.Error(t, err)
	_, err = NewClient("://bad")
	require.Error(t, err)
}

func TestConnectionStateString(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "unknown", ConnectionState(9).String())
}
