package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAnthropicModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase       = "https://api.anthropic.com/v1"
	anthropicAPIVersion    = "2023-06-01"
	defaultAnthropicMaxTok = 4096
)

// AnthropicDriver is the reference QueryDriver adapter, wrapping the
// Anthropic Messages API over net/http. Grounded on the teacher's
// internal/providers/anthropic.go (same API base, version header, and
// hand-rolled SSE client — the teacher itself uses no vendor SDK here).
type AnthropicDriver struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// AnthropicOption configures an AnthropicDriver.
type AnthropicOption func(*AnthropicDriver)

// WithAnthropicBaseURL overrides the API base, e.g. for a gateway/proxy.
func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(d *AnthropicDriver) {
		if baseURL != "" {
			d.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewAnthropicDriver creates a QueryDriver backed by the Anthropic API.
func NewAnthropicDriver(apiKey string, opts ...AnthropicOption) *AnthropicDriver {
	d := &AnthropicDriver{
		apiKey:  apiKey,
		baseURL: anthropicAPIBase,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type anthropicRequest struct {
	Model       string                   `json:"model"`
	MaxTokens   int                      `json:"max_tokens"`
	System      string                   `json:"system,omitempty"`
	Messages    []anthropicRequestMsg    `json:"messages"`
	Stream      bool                     `json:"stream"`
}

type anthropicRequestMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (d *AnthropicDriver) buildRequest(ctx context.Context, prompt string, opts RunOptions) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	system := resolveSystemPrompt(opts.SystemPrompt)

	body := anthropicRequest{
		Model:     model,
		MaxTokens: defaultAnthropicMaxTok,
		System:    system,
		Messages:  []anthropicRequestMsg{{Role: "user", Content: prompt}},
		Stream:    true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/messages", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", d.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	return req, nil
}

// resolveSystemPrompt flattens a SystemPrompt into the literal string the
// Anthropic API expects. Preset resolution (beyond appending extra text)
// is the engine's concern in the real system; this reference adapter
// treats any preset as an empty base prompt plus its Append text.
func resolveSystemPrompt(sp SystemPrompt) string {
	switch sp.Kind {
	case SystemPromptPreset:
		if sp.Append == "" {
			return ""
		}
		return sp.Append
	default:
		return sp.Text
	}
}

// Query implements QueryDriver by opening a streaming Anthropic request
// and translating its SSE event sequence into the core's typed Message
// sequence: a synthesized system/init record first (the Anthropic API has
// no native session concept, so a fresh id is minted unless Resume was
// given, in which case it is echoed back), then one assistant record per
// complete turn, then a terminal result record.
func (d *AnthropicDriver) Query(ctx context.Context, prompt string, opts RunOptions) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		sessionID := opts.Resume
		if sessionID == "" {
			sessionID = uuid.New().String()
		}

		init := Message{
			Type:      MessageSystem,
			Subtype:   SystemSubtypeInit,
			SessionID: sessionID,
			Raw:       map[string]string{"session_id": sessionID},
		}
		if !yield(init, nil) {
			return
		}

		req, err := d.buildRequest(ctx, prompt, opts)
		if err != nil {
			yield(Message{}, err)
			return
		}

		resp, err := d.client.Do(req)
		if err != nil {
			yield(Message{}, fmt.Errorf("anthropic request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield(Message{}, fmt.Errorf("anthropic request failed: status %d", resp.StatusCode))
			return
		}

		start := time.Now()
		stopped := false
		forward := func(m Message, e error) bool {
			if !yield(m, e) {
				stopped = true
				return false
			}
			return true
		}
		text, usage, err := consumeAnthropicStream(resp, forward)
		if stopped {
			return
		}
		if err != nil {
			yield(Message{}, err)
			return
		}

		result := Message{
			Type:       MessageResult,
			DurationMS: time.Since(start).Milliseconds(),
			NumTurns:   1,
			Usage:      usage,
			IsError:    false,
			Result:     text,
		}
		yield(result, nil)
	}
}
