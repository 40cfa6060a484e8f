package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/fleetsupervisor/fleetd/internal/errs"
	"github.com/fleetsupervisor/fleetd/internal/pathsafe"
)

// DefaultFileName is the fleet description file name searched for when no
// explicit path is given to Load.
const DefaultFileName = "fleet.yaml"

// DefaultCheckInterval is the scheduler tick period when check_interval is
// unset, per spec §4.3.
const DefaultCheckInterval = time.Second

// envPattern matches exactly one level of ${VAR} substitution; per spec
// §4.2 no nested expansion is performed. Grounded on the teacher's
// applyEnvOverrides style: explicit named lookups, not reflection magic.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load locates and parses the fleet description, resolves agents against
// fleet defaults, and validates the result. pathHint, if non-empty, is used
// directly; otherwise Load searches the current directory and its
// ancestors for DefaultFileName.
func Load(pathHint string) (*ResolvedConfig, error) {
	const op = "config.Load"

	path, err := resolvePath(pathHint)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindNotFound, "fleet description not found", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(op, errs.KindNotFound, "cannot read fleet description", err)
	}

	raw = []byte(interpolateEnv(string(raw)))

	var fc FleetConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, errs.Wrap(op, errs.KindInvalid, "cannot parse fleet description", err)
	}

	dir := filepath.Dir(path)

	if err := resolveIncludes(dir, fc.Agents); err != nil {
		return nil, errs.Wrap(op, errs.KindInvalid, "cannot resolve agent include file", err)
	}

	resolved, issues := resolve(dir, &fc)
	if len(issues) > 0 {
		return nil, newValidationError(issues)
	}
	resolved.Path = path
	return resolved, nil
}

// resolvePath returns pathHint verbatim if set, otherwise searches upward
// from the current working directory for DefaultFileName.
func resolvePath(pathHint string) (string, error) {
	if pathHint != "" {
		if _, err := os.Stat(pathHint); err != nil {
			return "", err
		}
		return pathHint, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found in %s or any ancestor", DefaultFileName, dir)
		}
		dir = parent
	}
}

// interpolateEnv replaces ${VAR} with the environment value, one level
// only; unset variables are replaced with the empty string, matching the
// teacher's tolerant env-override style.
func interpolateEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// resolveIncludes loads each agent's Include file (JSON5) and shallow-merges
// its fields under the inline agent, with inline values winning.
func resolveIncludes(dir string, agents map[string]AgentConfig) error {
	for name, ac := range agents {
		if ac.Include == "" {
			continue
		}
		includePath := ac.Include
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(dir, includePath)
		}
		data, err := os.ReadFile(includePath)
		if err != nil {
			return fmt.Errorf("agent %q: include %q: %w", name, ac.Include, err)
		}
		var included AgentConfig
		if err := json5.Unmarshal(data, &included); err != nil {
			return fmt.Errorf("agent %q: include %q: %w", name, ac.Include, err)
		}
		merged := mergeAgentConfig(included, ac)
		agents[name] = merged
	}
	return nil
}

// mergeAgentConfig shallow-merges base (from the include file) with
// override (declared inline), with override winning field by field.
func mergeAgentConfig(base, override AgentConfig) AgentConfig {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Description != "" {
		out.Description = override.Description
	}
	if override.WorkingDirectory.Path != "" {
		out.WorkingDirectory = override.WorkingDirectory
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.MaxTurns != 0 {
		out.MaxTurns = override.MaxTurns
	}
	if override.PermissionMode != "" {
		out.PermissionMode = override.PermissionMode
	}
	if len(override.AllowedTools) > 0 {
		out.AllowedTools = override.AllowedTools
	}
	if len(override.DeniedTools) > 0 {
		out.DeniedTools = override.DeniedTools
	}
	if override.SystemPrompt.Literal != "" || override.SystemPrompt.Type != "" {
		out.SystemPrompt = override.SystemPrompt
	}
	if len(override.SettingSources) > 0 {
		out.SettingSources = override.SettingSources
	}
	if len(override.ToolServers) > 0 {
		out.ToolServers = override.ToolServers
	}
	if len(override.Schedules) > 0 {
		out.Schedules = override.Schedules
	}
	if len(override.Hooks) > 0 {
		out.Hooks = override.Hooks
	}
	if len(override.ChatBindings) > 0 {
		out.ChatBindings = override.ChatBindings
	}
	if override.MetadataFile != "" {
		out.MetadataFile = override.MetadataFile
	}
	if override.MaxConcurrent != 0 {
		out.MaxConcurrent = override.MaxConcurrent
	}
	if override.DefaultPrompt != "" {
		out.DefaultPrompt = override.DefaultPrompt
	}
	out.Include = ""
	return out
}

// resolve merges fleet defaults into each agent and validates the result,
// returning either a ResolvedConfig or a non-empty issue list.
func resolve(dir string, fc *FleetConfig) (*ResolvedConfig, []ValidationIssue) {
	var issues []ValidationIssue

	stateDir := fc.StateDir
	if stateDir == "" {
		stateDir = filepath.Join(dir, "state")
	} else if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(dir, stateDir)
	}

	checkInterval := DefaultCheckInterval
	if fc.CheckInterval != "" {
		d, err := time.ParseDuration(fc.CheckInterval)
		if err != nil {
			issues = append(issues, ValidationIssue{Path: "check_interval", Message: "invalid duration", Value: fc.CheckInterval})
		} else {
			checkInterval = d
		}
	}

	rc := &ResolvedConfig{
		Dir:           dir,
		StateDir:      stateDir,
		CheckInterval: checkInterval,
		Bridges:       fc.Bridges,
		Telemetry:     fc.Telemetry,
		agentIndex:    make(map[string]*Agent),
	}

	seen := make(map[string]bool)
	names := make([]string, 0, len(fc.Agents))
	for name := range fc.Agents {
		names = append(names, name)
	}
	sortStrings(names)

	for _, name := range names {
		ac := fc.Agents[name]
		if ac.Name == "" {
			ac.Name = name
		}
		if !pathsafe.ValidIdentifier(ac.Name) {
			issues = append(issues, ValidationIssue{Path: "agents." + name + ".name", Message: "must match the safe-identifier pattern", Value: ac.Name})
			continue
		}
		if seen[ac.Name] {
			issues = append(issues, ValidationIssue{Path: "agents." + name, Message: "duplicate agent name", Value: ac.Name})
			continue
		}
		seen[ac.Name] = true

		agent := mergeDefaults(fc.Defaults, ac)
		agent.WorkingDirectory = resolveWorkingDir(dir, ac.WorkingDirectory.Path)

		for schedName, sched := range agent.Schedules {
			if err := validateSchedule(schedName, sched); err != "" {
				issues = append(issues, ValidationIssue{Path: "agents." + name + ".schedules." + schedName, Message: err})
			}
		}

		rc.Agents = append(rc.Agents, agent)
		rc.agentIndex[agent.Name] = agent
	}

	return rc, issues
}

func validateSchedule(name string, s ScheduleConfig) string {
	switch s.Type {
	case ScheduleInterval:
		if s.Interval == "" {
			return "interval schedule requires 'interval'"
		}
		if _, err := time.ParseDuration(s.Interval); err != nil {
			return "invalid interval duration: " + s.Interval
		}
	case ScheduleCron:
		if s.Cron == "" {
			return "cron schedule requires 'cron'"
		}
	case ScheduleManual, ScheduleChat:
		// no required fields
	default:
		return "unknown schedule type: " + string(s.Type)
	}
	return ""
}

func resolveWorkingDir(configDir, path string) string {
	if path == "" {
		return configDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

func mergeDefaults(d AgentDefaults, ac AgentConfig) *Agent {
	a := &Agent{
		Name:           ac.Name,
		Description:    ac.Description,
		Model:          firstNonEmpty(ac.Model, d.Model),
		MaxTurns:       firstNonZero(ac.MaxTurns, d.MaxTurns),
		PermissionMode: firstNonEmptyMode(ac.PermissionMode, d.PermissionMode),
		AllowedTools:   firstNonEmptySlice(ac.AllowedTools, d.AllowedTools),
		DeniedTools:    firstNonEmptySlice(ac.DeniedTools, d.DeniedTools),
		SystemPrompt:   ac.SystemPrompt,
		SettingSources: ac.SettingSources,
		ToolServers:    ac.ToolServers,
		Schedules:      ac.Schedules,
		Hooks:          ac.Hooks,
		ChatBindings:   ac.ChatBindings,
		MetadataFile:   ac.MetadataFile,
		MaxConcurrent:  firstNonZero(ac.MaxConcurrent, d.MaxConcurrent),
		DefaultPrompt:  ac.DefaultPrompt,
	}
	if a.SystemPrompt.Literal == "" && a.SystemPrompt.Type == "" {
		a.SystemPrompt = d.SystemPrompt
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = 1
	}
	return a
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonEmptyMode(a, b PermissionMode) PermissionMode {
	if a != "" {
		return a
	}
	return b
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmptySlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ExpandHome expands a leading "~" to the user's home directory, matching
// the teacher's ExpandHome convenience helper.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
