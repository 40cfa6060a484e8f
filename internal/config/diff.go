package config

import (
	"fmt"

	"github.com/fleetsupervisor/fleetd/internal/bus"
)

// Diff computes the §4.8.1 change list between an old and new
// ResolvedConfig. Agent modification is detected by comparing the closed
// field set {description, model, max_turns, system_prompt,
// working_directory, max_concurrent}. Schedule modification compares
// {type, interval, expression, prompt}. Added/removed agents contribute one
// "agent" entry plus one "schedule" entry per schedule they carry.
func Diff(oldCfg, newCfg *ResolvedConfig) []bus.ConfigChange {
	var changes []bus.ConfigChange

	oldAgents := indexAgents(oldCfg)
	newAgents := indexAgents(newCfg)

	for name, na := range newAgents {
		oa, existed := oldAgents[name]
		if !existed {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeAdded, Category: bus.CategoryAgent, Name: name})
			for schedName := range na.Schedules {
				changes = append(changes, bus.ConfigChange{Type: bus.ChangeAdded, Category: bus.CategorySchedule, Name: name + "/" + schedName})
			}
			continue
		}
		if detail := agentDiffDetail(oa, na); detail != "" {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeModified, Category: bus.CategoryAgent, Name: name, Details: detail})
		}
		changes = append(changes, diffSchedules(name, oa, na)...)
	}

	for name, oa := range oldAgents {
		if _, stillExists := newAgents[name]; stillExists {
			continue
		}
		changes = append(changes, bus.ConfigChange{Type: bus.ChangeRemoved, Category: bus.CategoryAgent, Name: name})
		for schedName := range oa.Schedules {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeRemoved, Category: bus.CategorySchedule, Name: name + "/" + schedName})
		}
	}

	return changes
}

func indexAgents(c *ResolvedConfig) map[string]*Agent {
	idx := make(map[string]*Agent)
	if c == nil {
		return idx
	}
	for _, a := range c.Agents {
		idx[a.Name] = a
	}
	return idx
}

func agentDiffDetail(oa, na *Agent) string {
	var parts []string
	if oa.Description != na.Description {
		parts = append(parts, fmt.Sprintf("description: %q → %q", oa.Description, na.Description))
	}
	if oa.Model != na.Model {
		parts = append(parts, fmt.Sprintf("model: %q → %q", oa.Model, na.Model))
	}
	if oa.MaxTurns != na.MaxTurns {
		parts = append(parts, fmt.Sprintf("max_turns: %d → %d", oa.MaxTurns, na.MaxTurns))
	}
	if oa.SystemPrompt != na.SystemPrompt {
		parts = append(parts, "system_prompt: changed")
	}
	if oa.WorkingDirectory != na.WorkingDirectory {
		parts = append(parts, fmt.Sprintf("working_directory: %q → %q", oa.WorkingDirectory, na.WorkingDirectory))
	}
	if oa.MaxConcurrent != na.MaxConcurrent {
		parts = append(parts, fmt.Sprintf("max_concurrent: %d → %d", oa.MaxConcurrent, na.MaxConcurrent))
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}

func diffSchedules(agentName string, oa, na *Agent) []bus.ConfigChange {
	var changes []bus.ConfigChange
	for schedName, ns := range na.Schedules {
		os, existed := oa.Schedules[schedName]
		qualified := agentName + "/" + schedName
		if !existed {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeAdded, Category: bus.CategorySchedule, Name: qualified})
			continue
		}
		if detail := scheduleDiffDetail(os, ns); detail != "" {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeModified, Category: bus.CategorySchedule, Name: qualified, Details: detail})
		}
	}
	for schedName := range oa.Schedules {
		if _, stillExists := na.Schedules[schedName]; !stillExists {
			changes = append(changes, bus.ConfigChange{Type: bus.ChangeRemoved, Category: bus.CategorySchedule, Name: agentName + "/" + schedName})
		}
	}
	return changes
}

func scheduleDiffDetail(os, ns ScheduleConfig) string {
	var parts []string
	if os.Type != ns.Type {
		parts = append(parts, fmt.Sprintf("type: %s → %s", os.Type, ns.Type))
	}
	if os.Interval != ns.Interval {
		parts = append(parts, fmt.Sprintf("interval: %s → %s", os.Interval, ns.Interval))
	}
	if os.Cron != ns.Cron {
		parts = append(parts, fmt.Sprintf("expression: %s → %s", os.Cron, ns.Cron))
	}
	if os.Prompt != ns.Prompt {
		parts = append(parts, "prompt: changed")
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}
