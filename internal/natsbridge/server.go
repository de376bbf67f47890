// Package natsbridge republishes egress events onto an embedded NATS
// broker, the transport for control operations and egress events, so
// out-of-process consumers (a SIEM forwarder, a fleet-wide collector)
// can subscribe without depending on the control surface's WebSocket hub.
// EmbeddedServer wraps nats-server/v2/server, narrowed to the plain-TCP
// case (no
// WebSocket gateway, no JetStream) since nothing in this domain needs
// message replay or a browser-facing transport — subscribers are backend
// processes using nats.go directly.
package natsbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process nats-server instance.
type EmbeddedServer struct {
	mu      sync.RWMutex
	srv     *server.Server
	port    int
	running bool
}

// NewEmbeddedServer creates an EmbeddedServer bound to the given port (the
// standard NATS default, 4222, if port is 0).
func NewEmbeddedServer(port int) *EmbeddedServer {
	if port <= 0 {
		port = 4222
	}
	return &EmbeddedServer{port: port}
}

// Start launches the broker and blocks until it is ready for connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("embedded NATS server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}
	e.srv = ns

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded NATS server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown gracefully stops the broker, waiting for in-flight connections
// to drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.srv == nil {
		return
	}
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
	e.running = false
	e.srv = nil
}

// URL returns the connection string for nats.go clients.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// IsRunning reports whether the broker is currently accepting connections.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
