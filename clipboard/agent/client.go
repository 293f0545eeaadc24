// Package agent is a Go client for the clipboard hub. It keeps a Feed in
// sync with the hub and posts text and files.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/portal-clipboard/clipboard/clip"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultReadLimit      = 50 << 20
	handshakeTimeout      = 10 * time.Second
	writeTimeout          = 10 * time.Second
)

var (
	// ErrEmptyText is returned by SendText for blank input. Nothing is sent.
	ErrEmptyText = errors.New("agent: empty text")
	// ErrNotConnected is returned when sending without an open connection.
	ErrNotConnected = errors.New("agent: not connected")
)

// Client keeps a Feed in sync with a clipboard hub.
type Client struct {
	base           *url.URL
	httpClient     *http.Client
	reconnectDelay time.Duration
	readLimit      int64
	now            func() time.Time
	feed           *Feed

	onState    func(ConnectionState)
	onSnapshot func([]clip.Message)
	onMessage  func(clip.Message)

	state atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	synced chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithReconnectDelay sets the fixed pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithHTTPClient sets the client used for dialing and uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithReadLimit caps the size of a single frame read from the hub.
func WithReadLimit(n int64) Option {
	return func(c *Client) { c.readLimit = n }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// OnStateChange registers a callback for connection state transitions.
func OnStateChange(fn func(ConnectionState)) Option {
	return func(c *Client) { c.onState = fn }
}

// OnSnapshot registers a callback invoked after each initial-messages frame.
func OnSnapshot(fn func([]clip.Message)) Option {
	return func(c *Client) { c.onSnapshot = fn }
}

// OnMessage registers a callback invoked for each broadcast message.
func OnMessage(fn func(clip.Message)) Option {
	return func(c *Client) { c.onMessage = fn }
}

// NewClient returns a client for the hub served at baseURL (http or https).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	c := &Client{
		base:           u,
		httpClient:     http.DefaultClient,
		reconnectDelay: defaultReconnectDelay,
		readLimit:      defaultReadLimit,
		now:            time.Now,
		feed:           &Feed{},
		synced:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Feed returns the rendered feed.
func (c *Client) Feed() *Feed { return c.feed }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(s ConnectionState) {
	if ConnectionState(c.state.Swap(int32(s))) == s {
		return
	}
	log.Debug().Str("state", s.String()).Msg("[agent] connection state")
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String()
}

// Run connects and keeps the feed in sync until ctx is cancelled. After a
// connection loss it waits the reconnect delay and starts over from a fresh
// snapshot.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosed)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", c.reconnectDelay).Msg("[agent] connection lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

// session runs one connection until it fails.
func (c *Client) session(ctx context.Context) error {
	c.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	ws, _, err := websocket.Dial(dialCtx, c.wsURL(), &websocket.DialOptions{HTTPClient: c.httpClient})
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial hub: %w", err)
	}
	ws.SetReadLimit(c.readLimit)

	c.mu.Lock()
	c.conn = ws
	c.mu.Unlock()
	c.setState(StateConnected)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		select {
		case <-c.synced:
			c.synced = make(chan struct{})
		default:
			// never synced; waiters carry over to the next connection
		}
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "")
		c.setState(StateDisconnected)
	}()

	for {
		var env clip.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env clip.Envelope) {
	switch env.Event {
	case clip.EventInitialMessages:
		var history []clip.Message
		if err := json.Unmarshal(env.Data, &history); err != nil {
			log.Warn().Err(err).Msg("[agent] undecodable snapshot")
			return
		}
		c.feed.Reset(history)
		c.mu.Lock()
		select {
		case <-c.synced:
		default:
			close(c.synced)
		}
		c.mu.Unlock()
		if c.onSnapshot != nil {
			c.onSnapshot(history)
		}
	case clip.EventMessageReceived:
		var m clip.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			log.Warn().Err(err).Msg("[agent] undecodable message")
			return
		}
		c.feed.Insert(m)
		if c.onMessage != nil {
			c.onMessage(m)
		}
	default:
		log.Debug().Str("event", env.Event).Msg("[agent] ignoring event")
	}
}

// WaitSynced blocks until the current connection has delivered its snapshot.
func (c *Client) WaitSynced(ctx context.Context) error {
	c.mu.Lock()
	ch := c.synced
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendText trims text and posts it. Blank text returns ErrEmptyText.
func (c *Client) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	return c.send(ctx, clip.NewText(text, c.now()))
}

// SendFile uploads the file at path and posts a file message for it. The
// message is only sent after a successful upload. Nothing is retried.
func (c *Client) SendFile(ctx context.Context, path string, progress ProgressFunc) (clip.FileDescriptor, error) {
	if c.currentConn() == nil {
		return clip.FileDescriptor{}, ErrNotConnected
	}
	fd, err := c.Upload(ctx, path, progress)
	if err != nil {
		return clip.FileDescriptor{}, err
	}
	if err := c.send(ctx, clip.NewFile(fd, c.now())); err != nil {
		return fd, err
	}
	return fd, nil
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) send(ctx context.Context, m clip.Message) error {
	ws := c.currentConn()
	if ws == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	env := clip.Envelope{Event: clip.EventNewMessage, Data: payload}
	if err := wsjson.Write(ctx, ws, env); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
