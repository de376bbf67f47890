// Package control implements sentineld's local HTTP+WebSocket control
// surface: the control-operations table (scan_path,
// stop_scan, get_scan_progress, enable_realtime/disable_realtime,
// list_quarantine, restore_quarantine, delete_quarantine, resolve_threat,
// list_pending_threats) plus the WebSocket egress push used to stream
// ScanProgress/ThreatDetected/ThreatActionRequired/ThreatActionApplied/
// ScanCompleted events to subscribers. Routes are registered on a
// gorilla/mux router, hub.go owns the WebSocket broadcast hub, and
// middleware.go applies header hardening to every response.
package control

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/logging"
	"github.com/sentineld/sentineld/internal/pipeline"
	"github.com/sentineld/sentineld/internal/quarantine"
	"github.com/sentineld/sentineld/internal/scanjob"
)

var log = logging.New("CONTROL")

var upgrader = websocket.Upgrader{
	CheckOrigin: checkWebSocketOrigin,
}

// Server is the control surface's HTTP listener. It owns no scanning logic
// of its own — every handler delegates to the already-wired scanjob
// manager, pipeline, quarantine store, and executor.
type Server struct {
	cfg *config.Config

	router     *mux.Router
	hub        *Hub
	httpServer *http.Server
	hubStop    chan struct{}

	jobs            *scanjob.Manager
	realtime        *pipeline.Pipeline
	quarantineStore *quarantine.Store
	exec            *executor.Executor

	shutdownRequested chan struct{}
}

// New wires a Server's routes. The caller is responsible for registering
// hub as an egress.Sink on the shared broadcaster so events reach
// connected WebSocket clients.
func New(cfg *config.Config, jobs *scanjob.Manager, realtime *pipeline.Pipeline, quarantineStore *quarantine.Store, exec *executor.Executor) *Server {
	s := &Server{
		cfg:               cfg,
		hub:               NewHub(),
		jobs:              jobs,
		realtime:          realtime,
		quarantineStore:   quarantineStore,
		exec:              exec,
		shutdownRequested: make(chan struct{}, 1),
	}
	s.routes()
	return s
}

// Hub exposes the WebSocket broadcast hub so it can be registered as an
// egress.Sink alongside the NATS bridge and desktop notifier.
func (s *Server) Hub() *Hub { return s.hub }

// ShutdownRequested delivers a value each time a client posts to
// /api/shutdown, letting cmd/sentineld's main select loop treat a remote
// shutdown request the same as an OS signal.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdownRequested }

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(securityHeaders)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.handleScanPath).Methods("POST")
	api.HandleFunc("/scan/{id}/stop", s.handleStopScan).Methods("POST")
	api.HandleFunc("/scan/{id}/progress", s.handleScanProgress).Methods("GET")
	api.HandleFunc("/realtime/enable", s.handleEnableRealtime).Methods("POST")
	api.HandleFunc("/realtime/disable", s.handleDisableRealtime).Methods("POST")
	api.HandleFunc("/quarantine", s.handleListQuarantine).Methods("GET")
	api.HandleFunc("/quarantine/{id}/restore", s.handleRestoreQuarantine).Methods("POST")
	api.HandleFunc("/quarantine/{id}", s.handleDeleteQuarantine).Methods("DELETE")
	api.HandleFunc("/threats/pending", s.handleListPendingThreats).Methods("GET")
	api.HandleFunc("/threats/{event_id}/resolve", s.handleResolveThreat).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")

	r.HandleFunc("/ws", s.handleWebSocket)

	s.router = r
}

// Start begins serving on cfg.ControlPort and blocks until the listener
// stops (the caller runs Start in its own goroutine and calls Shutdown
// to unwind it).
func (s *Server) Start() error {
	s.hubStop = make(chan struct{})
	go s.hub.Run(s.hubStop)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.cfg.ControlPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("control surface listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener and the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hubStop != nil {
		close(s.hubStop)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
