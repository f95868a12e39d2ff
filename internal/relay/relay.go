// Package relay implements the hosted publish/subscribe service that
// keeps Local-mode plantsync instances eventually consistent.
//
// The relay is deliberately dumb: it authenticates connections with a
// shared access key, tracks which topics each connection subscribed
// to, and fans published change events out to every subscriber of the
// topic. It never persists events and never inspects payloads.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/plantops/plantsync/internal/schema"
)

// Frame actions exchanged between client and relay.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPublish     = "publish"
	ActionEvent       = "event"
)

// Frame is the wire envelope for the relay protocol.
type Frame struct {
	Action string              `json:"action"`
	Topic  string              `json:"topic"`
	Event  *schema.ChangeEvent `json:"event,omitempty"`
}

// Config holds relay server configuration.
type Config struct {
	// Port to listen on (0 picks a free port).
	Port int

	// AccessKey that connecting clients must present. Empty disables
	// authentication; deployments should always set one.
	AccessKey string

	// Logger for relay activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8090,
		Logger: log.New(log.Writer(), "[relay] ", log.LstdFlags),
	}
}

type publication struct {
	topic  string
	origin *websocket.Conn
	data   []byte
}

// Server accepts WebSocket subscribers and fans out published events.
type Server struct {
	addr      string
	accessKey string
	listener  net.Listener
	server    *http.Server

	// Topic subscriptions per connection.
	subs   map[*websocket.Conn]map[string]bool
	subsMu sync.RWMutex

	publish chan publication

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a relay server from config.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(log.Writer(), "[relay] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		accessKey: config.AccessKey,
		subs:      make(map[*websocket.Conn]map[string]bool),
		publish:   make(chan publication, 256),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins listening and serving. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/channel", s.handleChannel)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.fanoutLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Relay listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the relay.
func (s *Server) Stop() error {
	s.logger.Println("Stopping relay")
	s.cancel()

	s.subsMu.Lock()
	for conn := range s.subs {
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
		delete(s.subs, conn)
	}
	s.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("relay shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Relay stopped")
	return nil
}

// Addr returns the actual listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/channel"
}

// SubscriberCount returns the number of connections subscribed to topic.
func (s *Server) SubscriberCount(topic string) int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	n := 0
	for _, topics := range s.subs {
		if topics[topic] {
			n++
		}
	}
	return n
}

// authorized checks the access key on an incoming request. The key may
// arrive as a bearer token or a query parameter (for clients that
// cannot set headers).
func (s *Server) authorized(r *http.Request) bool {
	if s.accessKey == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ") == s.accessKey
	}
	return r.URL.Query().Get("key") == s.accessKey
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid access key", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.subsMu.Lock()
	s.subs[conn] = make(map[string]bool)
	total := len(s.subs)
	s.subsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", total)
	go s.readLoop(conn)
}

// readLoop consumes frames from one client until it disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch f.Action {
		case ActionSubscribe:
			if f.Topic == "" {
				continue
			}
			s.subsMu.Lock()
			if topics, ok := s.subs[conn]; ok {
				topics[f.Topic] = true
			}
			s.subsMu.Unlock()

		case ActionUnsubscribe:
			s.subsMu.Lock()
			if topics, ok := s.subs[conn]; ok {
				delete(topics, f.Topic)
			}
			s.subsMu.Unlock()

		case ActionPublish:
			if f.Topic == "" || f.Event == nil {
				s.logger.Printf("Dropping publish without topic or event")
				continue
			}
			out, err := json.Marshal(Frame{Action: ActionEvent, Topic: f.Topic, Event: f.Event})
			if err != nil {
				s.logger.Printf("Failed to marshal event frame: %v", err)
				continue
			}
			select {
			case s.publish <- publication{topic: f.Topic, origin: conn, data: out}:
			case <-s.ctx.Done():
				return
			default:
				s.logger.Println("Warning: publish queue full, dropping event")
			}

		default:
			s.logger.Printf("Dropping frame with unknown action %q", f.Action)
		}
	}
}

// fanoutLoop delivers published events to topic subscribers. Delivery
// order per connection follows publish order, which is what gives
// subscribers per-entity apply ordering.
func (s *Server) fanoutLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case pub := <-s.publish:
			s.subsMu.RLock()
			targets := make([]*websocket.Conn, 0, len(s.subs))
			for conn, topics := range s.subs {
				if topics[pub.topic] {
					targets = append(targets, conn)
				}
			}
			s.subsMu.RUnlock()

			for _, conn := range targets {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, pub.data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to deliver to subscriber: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// removeClient drops a connection and its subscriptions.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.subsMu.Lock()
	if _, exists := s.subs[conn]; exists {
		delete(s.subs, conn)
		total := len(s.subs)
		s.subsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", total)
	} else {
		s.subsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.subsMu.RLock()
	total := len(s.subs)
	s.subsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": total,
	})
}
