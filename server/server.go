// Package server exposes the rolling-horizon driver's progress over HTTP
// and WebSocket, merging the host's earlier HealthServer/WebServer pair
// (which duplicated a SchedulerHealth/SystemHealth status shape across two
// files) into one status server with a single status type.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devskill-org/bess-dispatch/dispatch"
	"github.com/devskill-org/bess-dispatch/rolling"
)

// Status is the server's single view of driver progress, replacing the
// two near-duplicate health shapes the host used to carry.
type Status struct {
	Running        bool      `json:"running"`
	LastWindowAt   time.Time `json:"last_window_at,omitempty"`
	LastSolveOK    bool      `json:"last_solve_ok"`
	WindowsSolved  int       `json:"windows_solved"`
	CommittedSteps int       `json:"committed_steps"`
	LastDiagnostic string    `json:"last_diagnostic,omitempty"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
}

// Server serves /health, /ready, /status, and a /ws stream of WindowEvent
// updates. It implements rolling.StatusSink, so a Driver can push events
// to it directly as it runs.
type Server struct {
	port      int
	startTime time.Time
	http      *http.Server

	mu     sync.Mutex
	status Status

	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
}

// New constructs a Server. It returns nil if port <= 0, matching the
// host's convention that a non-positive port disables the server
// entirely rather than being a configuration error.
func New(port int) *Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		port:      port,
		startTime: time.Now(),
		status:    Status{Running: true},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readinessHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/ws", s.wsHandler)

	return s
}

// Start begins serving in the background. A nil Server is a no-op, so
// callers can unconditionally defer Stop without checking for nil first.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server: listen error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, closing all WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.http.Shutdown(ctx)
}

// OnWindow implements rolling.StatusSink: it updates the server's status
// snapshot and broadcasts the event to connected WebSocket clients.
func (s *Server) OnWindow(e rolling.WindowEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.status.LastWindowAt = e.WindowStart
	s.status.WindowsSolved++
	s.status.CommittedSteps += e.CommittedSteps
	s.status.LastSolveOK = e.Result != nil && e.Result.Status == dispatch.StatusSolved
	if e.Result != nil {
		s.status.LastDiagnostic = e.Result.Diagnostic
	}
	s.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- payload:
	default: // drop if no one is reading fast enough; status endpoints stay authoritative
	}
}

func (s *Server) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.UptimeSeconds = time.Since(s.startTime).Seconds()
	return st
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if !st.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(st)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ready": st.Running, "timestamp": time.Now().UTC()})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.clients.Store(conn, true)

	initial, _ := json.Marshal(s.snapshot())
	conn.WriteMessage(websocket.TextMessage, initial)

	go func() {
		defer func() {
			s.clients.Delete(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					s.clients.Delete(conn)
					conn.Close()
				}
				return true
			})
		}
	}
}
