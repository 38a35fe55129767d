package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/nmeahub/internal/config"
	"github.com/shaunagostinho/nmeahub/internal/hub"
	"github.com/shaunagostinho/nmeahub/internal/nmea"
	"github.com/shaunagostinho/nmeahub/internal/position"
	"github.com/shaunagostinho/nmeahub/internal/queue"
)

// StatusSource reports the state of the supervised connections.
type StatusSource interface {
	Status() []hub.Status
}

// PositionSource reports the latest decoded position.
type PositionSource interface {
	Snapshot() (position.Position, bool)
}

// Server exposes the sentence queue over HTTP and WebSocket.
type Server struct {
	cfg     *config.Config
	queue   *queue.Queue
	hub     StatusSource
	tracker PositionSource
	webFS   fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	fetchTimeout     time.Duration
	positionInterval time.Duration
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	source string // queue source name of sentences sent by this client
}

// Frame is the JSON structure sent to WebSocket clients. A frame carries
// either one queued sentence or the latest position.
type Frame struct {
	Seq      int64              `json:"seq,omitempty"`
	Source   string             `json:"source,omitempty"`
	Data     string             `json:"data,omitempty"`
	Position *position.Position `json:"position,omitempty"`
	Stamp    int64              `json:"stamp"` // Unix ms
}

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	Head        int64              `json:"head"`
	Queued      int                `json:"queued"`
	Clients     int                `json:"clients"`
	Connections []hub.Status       `json:"connections"`
	Position    *position.Position `json:"position,omitempty"`
}

// New creates a new Server.
func New(cfg *config.Config, q *queue.Queue, h StatusSource, tracker PositionSource, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		queue:   q,
		hub:     h,
		tracker: tracker,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		fetchTimeout:     time.Second,
		positionInterval: time.Second,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run starts the HTTP server and the position broadcast loop. It returns nil
// after a graceful shutdown triggered by ctx.
func (s *Server) Run(ctx context.Context) error {
	go s.positionLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Clients see every sentence appended once the handshake has completed.
	cursor := s.queue.Head()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 64),
		source: "ws-" + uuid.NewString(),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client %s connected (%d total)", client.source, n)

	// Send the current position right away
	if pos, ok := s.tracker.Snapshot(); ok {
		if data, err := json.Marshal(Frame{Position: &pos, Stamp: time.Now().UnixMilli()}); err == nil {
			client.send <- data
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Queue pump, one cursor per client
	go func() {
		defer close(pumpDone)
		s.pump(ctx, client, cursor)
	}()

	// Reader goroutine: every text message holds one or more sentences
	go func() {
		defer func() {
			cancel()
			<-pumpDone
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client %s disconnected (%d total)", client.source, n)
		}()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.TextMessage {
				continue
			}
			for _, line := range strings.Split(string(msg), "\n") {
				line = nmea.Sanitize(line)
				if line == "" {
					continue
				}
				s.queue.Add(line, client.source)
			}
		}
	}()
}

// pump forwards every sentence after cursor except the client's own ones. A
// slow client falls behind on its cursor and loses the oldest entries once
// the queue wraps.
func (s *Server) pump(ctx context.Context, client *wsClient, cursor int64) {
	for {
		e, ok, err := s.queue.Fetch(ctx, cursor, s.fetchTimeout)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		cursor = e.Sequence
		if e.Source == client.source {
			continue
		}
		data, err := json.Marshal(Frame{
			Seq:    e.Sequence,
			Source: e.Source,
			Data:   e.Data,
			Stamp:  e.Received.UnixMilli(),
		})
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}

	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	resp := StatusResponse{
		Head:        s.queue.Head(),
		Queued:      s.queue.Len(),
		Clients:     clients,
		Connections: s.hub.Status(),
	}
	if pos, ok := s.tracker.Snapshot(); ok {
		resp.Position = &pos
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// positionLoop pushes the latest position to every client whenever it has
// changed.
func (s *Server) positionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.positionInterval)
	defer ticker.Stop()

	var lastSeq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos, ok := s.tracker.Snapshot()
			if !ok || pos.Sequence == lastSeq {
				continue
			}
			lastSeq = pos.Sequence
			s.broadcast(Frame{Position: &pos, Stamp: time.Now().UnixMilli()})
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// closeClients drops every WebSocket connection; http.Server.Shutdown does
// not track hijacked connections.
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		client.conn.Close()
	}
}
