package fleet

import (
	"context"

	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/mcpclient"
)

// ValidateToolServers checks connectivity for every MCP tool server
// declared on agentName, for a status/doctor surface ahead of actually
// running a job against them.
func (m *Manager) ValidateToolServers(ctx context.Context, agentName string) ([]mcpclient.ServerStatus, error) {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	agent := cfg.AgentByName(agentName)
	if agent == nil {
		return nil, &JobNotFoundError{JobID: agentName}
	}

	specs := make(map[string]driver.MCPServerSpec, len(agent.ToolServers))
	for name, ts := range agent.ToolServers {
		specs[name] = driver.MCPServerSpec{
			Type: ts.Type, URL: ts.URL, Headers: ts.Headers,
			Command: ts.Command, Args: ts.Args, Env: ts.Env,
		}
	}
	return mcpclient.Validate(ctx, specs), nil
}

// AgentStatus is one entry of the fleet-wide status() surface, per spec §6.4.
type AgentStatus struct {
	Name          string
	RunningJobs   int
	MaxConcurrent int
	Schedules     []ScheduleStatus
}

// ScheduleStatus reports one schedule's runtime state.
type ScheduleStatus struct {
	Name   string
	Status string
}

// Status reports the Fleet Manager's own lifecycle state plus a per-agent
// snapshot, per spec §4.8/§6.4.
func (m *Manager) Status() (State, []AgentStatus) {
	m.mu.RLock()
	state := m.state
	cfg := m.cfg
	m.mu.RUnlock()

	if cfg == nil {
		return state, nil
	}

	statuses := make([]AgentStatus, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		as := AgentStatus{
			Name:          agent.Name,
			RunningJobs:   m.scheduler.RunningCount(agent.Name),
			MaxConcurrent: agent.MaxConcurrent,
		}
		for name := range agent.Schedules {
			status := "idle"
			if st, _, err := m.store.GetScheduleState(agent.Name, name); err == nil {
				status = string(st.Status)
			}
			as.Schedules = append(as.Schedules, ScheduleStatus{Name: name, Status: status})
		}
		statuses = append(statuses, as)
	}
	return state, statuses
}
