// Package control exposes a running Fleet Manager over a local control
// socket so the thin operator CLI (cmd/) can reach the long-lived `start`
// process, per spec §6.4 ("the CLI is treated as an external collaborator;
// the core merely exposes the Fleet Manager API").
//
// Grounded on the teacher's internal/gateway/server.go: a stdlib net/http
// ServeMux registered once, context-driven graceful shutdown via
// http.Server.Shutdown, and a websocket upgrade for the one long-lived
// streaming endpoint (logs --follow) using the same github.com/gorilla/
// websocket dependency the teacher's gateway used for its client
// connections. The transport is narrowed from TCP to a Unix domain socket
// under the state directory, since this control plane is local-operator-
// only and has no remote-access requirement.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

// SocketName is the control socket's file name under the state directory.
const SocketName = "control.sock"

// Server exposes mgr's operations over a Unix socket HTTP+WebSocket API.
type Server struct {
	mgr        *fleet.Manager
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer builds a control Server over mgr.
func NewServer(mgr *fleet.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mgr: mgr, logger: logger, upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}}
}

// Start removes any stale socket file at socketPath, listens on it, and
// serves until ctx is cancelled, at which point it shuts down gracefully.
func (s *Server) Start(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", socketPath, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/trigger", s.handleTrigger)
	mux.HandleFunc("/v1/cancel", s.handleCancel)
	mux.HandleFunc("/v1/fork", s.handleFork)
	mux.HandleFunc("/v1/reload", s.handleReload)
	mux.HandleFunc("/v1/logs", s.handleLogs)
	mux.HandleFunc("/v1/validate-tools", s.handleValidateTools)

	s.httpServer = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("control socket listening", "path", socketPath)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control: serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}
