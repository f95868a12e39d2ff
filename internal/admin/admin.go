// Package admin exposes the operational HTTP surface: health, status,
// and the hosted-state sync endpoints. In Local mode the sync
// endpoints answer with a distinct "unavailable" outcome instead of
// pretending to succeed; the local store is the sole authoritative
// copy and a silent no-op would read as a successful wipe.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/plantops/plantsync/internal/backend"
	"github.com/plantops/plantsync/internal/gateway"
)

// DumpFunc produces the full hosted-state dump. Wired to the backend
// client in Backend mode, nil in Local mode.
type DumpFunc func(ctx context.Context) (*backend.Dump, error)

// Config holds admin server configuration.
type Config struct {
	// Port to listen on. 0 picks a free port.
	Port int

	// Logger for request handling.
	Logger *log.Logger
}

// Server serves the admin endpoints.
type Server struct {
	gw     *gateway.Gateway
	dump   DumpFunc
	config *Config

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates the admin server. dump may be nil when no hosted
// dump source exists (Local mode).
func NewServer(gw *gateway.Gateway, dump DumpFunc, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[admin] ", log.LstdFlags)
	}
	return &Server{gw: gw, dump: dump, config: config}
}

// Start begins listening. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sync/clear", s.handleClear)
	mux.HandleFunc("/api/sync/data", s.handleData)

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Logger.Printf("Server error: %v", err)
		}
	}()

	s.config.Logger.Printf("Admin surface on http://%s", ln.Addr())
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"mode":   s.gw.Mode().String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"mode": s.gw.Mode().String()}

	counts, err := s.gw.Counts(r.Context())
	if err == nil {
		out["counts"] = counts
	} else if !errors.Is(err, gateway.ErrUnavailableInMode) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// handleClear wipes the hosted database. The Local-mode answer is the
// guard outcome, never a silent success.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}

	if err := s.gw.ClearRemote(r.Context()); err != nil {
		if errors.Is(err, gateway.ErrUnavailableInMode) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "operation unavailable in this environment",
			})
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}

	s.config.Logger.Println("Hosted database cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleData serves the full hosted-state dump.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if s.dump == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "operation unavailable in this environment",
		})
		return
	}

	d, err := s.dump(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
