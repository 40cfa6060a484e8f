package control

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

// handleLogs upgrades to a WebSocket and streams LogEntry JSON frames from
// the requested view (fleet-wide, one agent, or one job), per spec §6.4's
// `logs [--agent --job --level --follow]`.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentName := q.Get("agent")
	jobID := q.Get("job")
	level := q.Get("level")
	history := q.Get("history") != "0"
	historyLimit, _ := strconv.Atoi(q.Get("history_limit"))
	follow := q.Get("follow") == "1"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("logs: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	opts := fleet.LogStreamOptions{IncludeHistory: history, HistoryLimit: historyLimit, Follow: follow}

	var seq func(yield func(fleet.LogEntry) bool)
	switch {
	case jobID != "":
		seq = s.mgr.StreamJobOutput(ctx, jobID, opts)
	case agentName != "":
		seq = s.mgr.StreamAgentLogs(ctx, agentName, opts)
	default:
		seq = s.mgr.StreamLogs(ctx, opts)
	}

	for entry := range seq {
		if level != "" && !strings.EqualFold(entry.Level, level) {
			continue
		}
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}
}
