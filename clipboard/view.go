package main

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

//go:embed static/*
var embeddedStatic embed.FS

var indexTmpl = template.Must(template.ParseFS(embeddedStatic, "static/index.html"))

// app bundles the hub and its collaborators behind the HTTP surface.
type app struct {
	name       string
	hub        *Hub
	uploads    *uploadStore
	metrics    *metrics
	sendBuffer int
	maxFrame   int64
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
}

func newApp(name string, hub *Hub, uploads *uploadStore, m *metrics, sendBuffer int, maxFrame int64) *app {
	return &app{
		name:       name,
		hub:        hub,
		uploads:    uploads,
		metrics:    m,
		sendBuffer: sendBuffer,
		maxFrame:   maxFrame,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the clipboard HTTP router (UI, websocket, uploads).
func (a *app) NewHandler() http.Handler {
	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic(err)
	}
	r := chi.NewRouter()
	r.Get("/", a.serveIndex)
	r.Get("/app.js", serveEmbedded(staticFS, "app.js", "application/javascript"))
	r.Get("/styles.css", serveEmbedded(staticFS, "styles.css", "text/css; charset=utf-8"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", a.handleWS)
	r.Get("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, a.hub.History())
	})
	r.Post("/upload", a.uploads.handleUpload)
	r.Get("/uploads/{name}", a.uploads.handleDownload)
	r.Handle("/metrics", a.metrics.handler())
	return r
}

func (a *app) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, struct{ Name string }{Name: a.name})
}

func (a *app) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		return
	}
	s := newSession(conn, a.hub, a.sendBuffer, a.maxFrame)
	if !a.hub.Connect(s) {
		_ = conn.WriteControl(websocket.CloseMessage, closePayload(reasonShutdown), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	log.Debug().Str("session", s.id).Str("remote", r.RemoteAddr).Msg("[clipboard] client connected")
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		s.writeLoop()
	}()
	defer a.wg.Done()
	s.readLoop()
	log.Debug().Str("session", s.id).Msg("[clipboard] client disconnected")
}

// wait blocks until every websocket reader and writer has finished.
func (a *app) wait() {
	a.wg.Wait()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode json response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func serveEmbedded(fsys fs.FS, name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}
}
