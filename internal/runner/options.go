package runner

import (
	"github.com/fleetsupervisor/fleetd/internal/config"
	"github.com/fleetsupervisor/fleetd/internal/driver"
)

// buildRunOptions translates an agent's resolved configuration into
// QueryDriver options, merging in ephemeral injected tool servers, per
// spec §4.4 step 2.
func buildRunOptions(agent *config.Agent, resume string, fork bool, injected map[string]driver.MCPServerSpec) driver.RunOptions {
	opts := driver.RunOptions{
		AllowedTools:   agent.AllowedTools,
		DeniedTools:    agent.DeniedTools,
		PermissionMode: driver.PermissionMode(agent.PermissionMode),
		SystemPrompt:   translateSystemPrompt(agent.SystemPrompt),
		SettingSources: agent.SettingSources,
		Resume:         resume,
		ForkSession:    fork,
		MaxTurns:       agent.MaxTurns,
		Cwd:            agent.WorkingDirectory,
		Model:          agent.Model,
	}

	opts.MCPServers = make(map[string]driver.MCPServerSpec, len(agent.ToolServers)+len(injected))
	for name, ts := range agent.ToolServers {
		opts.MCPServers[name] = driver.MCPServerSpec{
			Type:    ts.Type,
			URL:     ts.URL,
			Headers: ts.Headers,
			Command: ts.Command,
			Args:    ts.Args,
			Env:     ts.Env,
		}
	}
	for name, spec := range injected {
		opts.MCPServers[name] = spec
	}

	return opts
}

func translateSystemPrompt(sp config.SystemPrompt) driver.SystemPrompt {
	if sp.Type == "preset" {
		return driver.SystemPrompt{Kind: driver.SystemPromptPreset, Preset: sp.Preset, Append: sp.Append}
	}
	return driver.SystemPrompt{Kind: driver.SystemPromptLiteral, Text: sp.Literal}
}
