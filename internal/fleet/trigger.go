package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetsupervisor/fleetd/internal/chat"
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
	"github.com/fleetsupervisor/fleetd/internal/runner"
	"github.com/fleetsupervisor/fleetd/internal/store"
)

// runnerExecuteInputFor assembles a runner.ExecuteInput for one trigger,
// wiring onJobCreated so the caller can register a cancellation handle
// before Execute's blocking loop begins.
func runnerExecuteInputFor(
	agent *config.Agent,
	prompt string,
	triggerType store.TriggerType,
	scheduleName, resume, forkedFrom string,
	injected map[string]driver.MCPServerSpec,
	onMessage func(driver.Message),
	onJobCreated func(jobID string),
) runner.ExecuteInput {
	return runner.ExecuteInput{
		Agent:              agent,
		Prompt:             prompt,
		TriggerType:        triggerType,
		ScheduleName:       scheduleName,
		Resume:             resume,
		Fork:               forkedFrom != "",
		ForkedFrom:         forkedFrom,
		InjectedMCPServers: injected,
		OnMessage:          onMessage,
		OnJobCreated:       onJobCreated,
	}
}

// Trigger runs one agent through the Job Runner, resolving the prompt in
// priority order options.Prompt > schedule.Prompt > agent.DefaultPrompt >
// a generic default, enforcing the agent's concurrency limit, and blocking
// until the job reaches a terminal status, per spec §4.8.
func (m *Manager) Trigger(ctx context.Context, agentName, scheduleName string, opts TriggerOptions) (TriggerResult, error) {
	triggerType := store.TriggerManual
	if scheduleName != "" {
		triggerType = store.TriggerSchedule
	}
	return m.triggerWith(ctx, agentName, scheduleName, opts, triggerType, "", "", nil, nil)
}

// triggerWith is the shared body of Trigger, ForkJob and chatTriggerFunc,
// carrying the trigger type, resume, fork origin, injected servers and
// streaming callback that fleet.TriggerOptions does not expose.
func (m *Manager) triggerWith(
	ctx context.Context,
	agentName, scheduleName string,
	opts TriggerOptions,
	triggerType store.TriggerType,
	resume string,
	forkedFrom string,
	injected map[string]driver.MCPServerSpec,
	onMessage func(driver.Message),
) (TriggerResult, error) {
	m.mu.RLock()
	state := m.state
	cfg := m.cfg
	m.mu.RUnlock()
	if state != StateRunning {
		return TriggerResult{}, &InvalidStateError{From: state, Attempted: StateRunning}
	}

	agent := cfg.AgentByName(agentName)
	if agent == nil {
		return TriggerResult{}, &JobNotFoundError{JobID: agentName}
	}

	var sched *config.ScheduleConfig
	if scheduleName != "" {
		s, ok := agent.Schedules[scheduleName]
		if !ok {
			return TriggerResult{}, &ScheduleNotFoundError{AgentName: agentName, ScheduleName: scheduleName}
		}
		sched = &s
	}

	if !opts.BypassConcurrencyLimit && agent.MaxConcurrent > 0 {
		if m.scheduler.RunningCount(agentName) >= agent.MaxConcurrent {
			return TriggerResult{}, fmt.Errorf("agent %q is at its concurrency limit of %d", agentName, agent.MaxConcurrent)
		}
	}

	prompt := opts.Prompt
	if prompt == "" && sched != nil {
		prompt = sched.Prompt
	}
	if prompt == "" {
		prompt = agent.DefaultPrompt
	}
	if prompt == "" {
		prompt = "Execute your configured task"
	}

	startedAt := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var jobID string
	result, err := m.runner.Execute(runCtx, runnerExecuteInputFor(agent, prompt, triggerType, scheduleName, resume, forkedFrom, injected, onMessage, func(id string) {
		jobID = id
		m.registerActive(id, cancel)
	}))
	if jobID != "" {
		m.deregisterActive(jobID)
	}
	if err != nil {
		return TriggerResult{}, err
	}

	tr := TriggerResult{
		JobID:        result.JobID,
		AgentName:    agentName,
		ScheduleName: scheduleName,
		StartedAt:    startedAt,
		Prompt:       prompt,
		Success:      result.Success,
		SessionID:    result.SessionID,
		ErrorDetails: result.ErrorDetails,
	}
	if result.ErrorDetails != nil {
		tr.Error = result.ErrorDetails.Message
	}
	return tr, nil
}

func (m *Manager) registerActive(jobID string, cancel context.CancelFunc) {
	m.activeMu.Lock()
	m.active[jobID] = &activeJob{cancel: cancel, done: make(chan struct{})}
	m.activeMu.Unlock()
}

func (m *Manager) deregisterActive(jobID string) {
	m.activeMu.Lock()
	j, ok := m.active[jobID]
	if ok {
		delete(m.active, jobID)
	}
	m.activeMu.Unlock()
	if ok {
		close(j.done)
	}
}

// chatTriggerFunc adapts Trigger to chat.TriggerFunc for Chat Router
// pipelines, threading resume and per-message injected tool servers through
// to the Job Runner.
func (m *Manager) chatTriggerFunc(ctx context.Context, agentName string, opts chat.TriggerOptions) (chat.TriggerResult, error) {
	result, err := m.triggerWith(ctx, agentName, "", TriggerOptions{Prompt: opts.Prompt}, store.TriggerManual, opts.Resume, "", opts.InjectedMCPServers, opts.OnMessage)
	if err != nil {
		return chat.TriggerResult{}, err
	}
	return chat.TriggerResult{
		JobID:     result.JobID,
		SessionID: result.SessionID,
		Success:   result.Success,
		Error:     result.Error,
	}, nil
}
