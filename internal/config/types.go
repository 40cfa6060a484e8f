// Package config loads and validates the declarative fleet description
// into an immutable ResolvedConfig, per spec §4.2.
//
// Grounded on the teacher's internal/config/config.go (struct layering,
// shallow-merge defaults-into-agent pattern) and config_load.go
// (Default/Load/env-override/Save/Hash conventions), rewritten for the
// fleet-supervisor domain. Parses YAML (gopkg.in/yaml.v3, promoted to a
// direct dependency) for the top-level fleet file per spec §4.2; per-agent
// include files accept JSON5 (github.com/titanous/json5) for operator
// convenience, mirroring the teacher's own config ergonomics.
package config

import "time"

// PermissionMode is the closed enumeration of QueryDriver permission modes.
type PermissionMode string

const (
	PermissionDefault          PermissionMode = "default"
	PermissionAcceptEdits      PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
	PermissionPlan             PermissionMode = "plan"
	PermissionDelegate         PermissionMode = "delegate"
	PermissionDontAsk          PermissionMode = "dontAsk"
)

// ScheduleType is the closed enumeration of schedule kinds.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleManual   ScheduleType = "manual"
	ScheduleChat     ScheduleType = "chat"
)

// HookStage is the closed enumeration of hook execution points.
type HookStage string

const (
	HookBeforeRun HookStage = "before_run"
	HookAfterRun  HookStage = "after_run"
	HookOnError   HookStage = "on_error"
)

// ToolServerConfig describes one injected MCP tool server, either a
// network-URL form or a local-process form, per spec §6.1's
// `mcpServers` option.
type ToolServerConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // "http" | "" (stdio)

	// http form
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// stdio form
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// SystemPrompt is either a bare string or a {type:"preset", preset, append?}
// object, per spec §6.1.
type SystemPrompt struct {
	Literal string `yaml:"-" json:"-"`
	Type    string `yaml:"type,omitempty" json:"type,omitempty"`
	Preset  string `yaml:"preset,omitempty" json:"preset,omitempty"`
	Append  string `yaml:"append,omitempty" json:"append,omitempty"`
}

// UnmarshalYAML accepts either a scalar string or a mapping.
func (s *SystemPrompt) UnmarshalYAML(unmarshal func(any) error) error {
	var literal string
	if err := unmarshal(&literal); err == nil {
		s.Literal = literal
		return nil
	}
	type plain SystemPrompt
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*s = SystemPrompt(p)
	return nil
}

// ScheduleConfig is one named schedule on an agent, per spec §3.
type ScheduleConfig struct {
	Type         ScheduleType `yaml:"type" json:"type"`
	Interval     string       `yaml:"interval,omitempty" json:"interval,omitempty"`
	Cron         string       `yaml:"cron,omitempty" json:"cron,omitempty"`
	Prompt       string       `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	OutputToFile bool         `yaml:"output_to_file,omitempty" json:"output_to_file,omitempty"`
}

// HookConfig is one user-defined lifecycle hook, per spec §4.5.
type HookConfig struct {
	Name            string    `yaml:"name" json:"name"`
	Command         string    `yaml:"command" json:"command"`
	Stage           HookStage `yaml:"stage" json:"stage"`
	TimeoutMS       int       `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	ContinueOnError *bool     `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	When            string    `yaml:"when,omitempty" json:"when,omitempty"`
}

// EffectiveTimeout returns TimeoutMS or the default 30s.
func (h HookConfig) EffectiveTimeout() time.Duration {
	if h.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.TimeoutMS) * time.Millisecond
}

// EffectiveContinueOnError returns ContinueOnError or the default true.
func (h HookConfig) EffectiveContinueOnError() bool {
	if h.ContinueOnError == nil {
		return true
	}
	return *h.ContinueOnError
}

// ChannelMode is mention (act only when addressed) or auto (act on every
// message), per spec §4.7 Shape B.
type ChannelMode string

const (
	ChannelModeMention ChannelMode = "mention"
	ChannelModeAuto    ChannelMode = "auto"
)

// ChatBinding binds an agent to channels on one bridge.
type ChatBinding struct {
	Channels []string    `yaml:"channels,omitempty" json:"channels,omitempty"`
	Mode     ChannelMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// WorkingDirectory normalizes the string-or-object form spec §4.8.1 names.
type WorkingDirectory struct {
	Path string `yaml:"-" json:"-"`
}

func (w *WorkingDirectory) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		w.Path = s
		return nil
	}
	var obj struct {
		Path string `yaml:"path"`
	}
	if err := unmarshal(&obj); err != nil {
		return err
	}
	w.Path = obj.Path
	return nil
}

// AgentConfig is the raw, pre-merge declaration of one agent.
type AgentConfig struct {
	Name             string                      `yaml:"name" json:"name"`
	Description      string                      `yaml:"description,omitempty" json:"description,omitempty"`
	WorkingDirectory  WorkingDirectory            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Model            string                      `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTurns         int                         `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	PermissionMode   PermissionMode              `yaml:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	AllowedTools     []string                    `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	DeniedTools      []string                    `yaml:"denied_tools,omitempty" json:"denied_tools,omitempty"`
	SystemPrompt     SystemPrompt                `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	SettingSources   []string                    `yaml:"setting_sources,omitempty" json:"setting_sources,omitempty"`
	ToolServers      map[string]ToolServerConfig `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
	Schedules        map[string]ScheduleConfig   `yaml:"schedules,omitempty" json:"schedules,omitempty"`
	Hooks            []HookConfig                `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	ChatBindings     map[string]ChatBinding      `yaml:"chat_bindings,omitempty" json:"chat_bindings,omitempty"`
	MetadataFile     string                      `yaml:"metadata_file,omitempty" json:"metadata_file,omitempty"`
	MaxConcurrent    int                         `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	DefaultPrompt    string                      `yaml:"default_prompt,omitempty" json:"default_prompt,omitempty"`

	// Include points at a sibling JSON5 file carrying the rest of this
	// agent's declaration (operator ergonomics, grounded on the teacher's
	// per-agent file layout). Fields set directly on this AgentConfig win
	// over the same field present in the included file.
	Include string `yaml:"include,omitempty" json:"include,omitempty"`
}

// AgentDefaults carries fleet-level defaults shallow-merged into each
// agent, with explicit agent values winning, per spec §4.2.
type AgentDefaults struct {
	Model          string         `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTurns       int            `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	PermissionMode PermissionMode `yaml:"permission_mode,omitempty" json:"permission_mode,omitempty"`
	AllowedTools   []string       `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	DeniedTools    []string       `yaml:"denied_tools,omitempty" json:"denied_tools,omitempty"`
	SystemPrompt   SystemPrompt   `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	MaxConcurrent  int            `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
}

// BridgeConfig is fleet-level connection info for one chat bridge (bot
// token, etc.); kept intentionally thin since the core treats bridges as
// external collaborators per spec §1.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Token   string `yaml:"token,omitempty" json:"token,omitempty"`
}

// TelemetryConfig controls optional OTel tracing (ambient, ungated by
// spec.md non-goals).
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	OTLPProtocol   string `yaml:"otlp_protocol,omitempty" json:"otlp_protocol,omitempty"` // "grpc" | "http"
	ServiceName    string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// FleetConfig is the raw, as-parsed top-level fleet description, before
// per-agent merge/resolution.
type FleetConfig struct {
	StateDir      string                  `yaml:"state_dir,omitempty" json:"state_dir,omitempty"`
	CheckInterval string                  `yaml:"check_interval,omitempty" json:"check_interval,omitempty"`
	Defaults      AgentDefaults           `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Agents        map[string]AgentConfig  `yaml:"agents,omitempty" json:"agents,omitempty"`
	Bridges       map[string]BridgeConfig `yaml:"bridges,omitempty" json:"bridges,omitempty"`
	Telemetry     TelemetryConfig         `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// Agent is one fully merged, resolved agent: fleet defaults shallow-merged
// with explicit overrides, ready for the scheduler/runner to consume.
type Agent struct {
	Name             string
	Description      string
	WorkingDirectory string
	Model            string
	MaxTurns         int
	PermissionMode   PermissionMode
	AllowedTools     []string
	DeniedTools      []string
	SystemPrompt     SystemPrompt
	SettingSources   []string
	ToolServers      map[string]ToolServerConfig
	Schedules        map[string]ScheduleConfig
	Hooks            []HookConfig
	ChatBindings     map[string]ChatBinding
	MetadataFile     string
	MaxConcurrent    int
	DefaultPrompt    string
}

// ResolvedConfig is the immutable result of a successful load: a config
// directory plus an ordered, name-unique agent list, per spec §3.
type ResolvedConfig struct {
	Dir           string
	Path          string
	StateDir      string
	CheckInterval time.Duration
	Bridges       map[string]BridgeConfig
	Telemetry     TelemetryConfig
	Agents        []*Agent

	// agentIndex supports O(1) lookup by name; built at resolve time.
	agentIndex map[string]*Agent
}

// AgentByName returns the agent with the given name, or nil if absent.
func (c *ResolvedConfig) AgentByName(name string) *Agent {
	if c == nil {
		return nil
	}
	return c.agentIndex[name]
}
