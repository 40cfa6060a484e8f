package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetsupervisor/fleetd/internal/fleet"
)

// Client is a thin HTTP+WebSocket client for a control Server, dialed over
// the same Unix socket the server listens on.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient builds a Client that dials socketPath for every request.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 0,
		},
	}
}

// OperationalError wraps a non-validation control-plane failure (HTTP 500),
// distinguished from ValidationError for the CLI's exit-code mapping.
type OperationalError struct{ msg string }

func (e *OperationalError) Error() string { return e.msg }

// ValidationError wraps a validation-shaped control-plane failure (HTTP
// 400), e.g. an unknown agent, job, or schedule.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://control"+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control: %s %s: %w (is the fleet started?)", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Error
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusBadRequest {
			return &ValidationError{msg: msg}
		}
		return &OperationalError{msg: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Trigger(ctx context.Context, agent, schedule, prompt string) (fleet.TriggerResult, error) {
	var out fleet.TriggerResult
	err := c.do(ctx, http.MethodPost, "/v1/trigger", triggerRequest{Agent: agent, Schedule: schedule, Prompt: prompt}, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, jobID string, timeout time.Duration) (fleet.CancelResult, error) {
	var out fleet.CancelResult
	err := c.do(ctx, http.MethodPost, "/v1/cancel", cancelRequest{JobID: jobID, TimeoutMS: int(timeout / time.Millisecond)}, &out)
	return out, err
}

func (c *Client) Fork(ctx context.Context, jobID, prompt, schedule string) (fleet.TriggerResult, error) {
	var out fleet.TriggerResult
	err := c.do(ctx, http.MethodPost, "/v1/fork", forkRequest{JobID: jobID, Prompt: prompt, Schedule: schedule}, &out)
	return out, err
}

func (c *Client) Reload(ctx context.Context) ([]any, error) {
	var out struct {
		Changes []any `json:"changes"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/reload", nil, &out)
	return out.Changes, err
}

func (c *Client) Status(ctx context.Context) (statusResponse, error) {
	var out statusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

func (c *Client) ValidateTools(ctx context.Context, agent string) ([]mcpServerStatus, error) {
	var out []mcpServerStatus
	err := c.do(ctx, http.MethodGet, "/v1/validate-tools?agent="+url.QueryEscape(agent), nil, &out)
	return out, err
}

// mcpServerStatus mirrors mcpclient.ServerStatus's JSON shape without
// importing internal/mcpclient into the client's public surface.
type mcpServerStatus struct {
	Name      string `json:"Name"`
	Connected bool   `json:"Connected"`
	ToolCount int    `json:"ToolCount"`
	Error     string `json:"Error"`
}

// LogOptions narrows StreamLogs over the wire.
type LogOptions struct {
	Agent        string
	Job          string
	Level        string
	History      bool
	HistoryLimit int
	Follow       bool
}

// StreamLogs dials the /v1/logs WebSocket endpoint and invokes onEntry for
// every received log line until ctx is cancelled or the connection closes.
func (c *Client) StreamLogs(ctx context.Context, opts LogOptions, onEntry func(fleet.LogEntry)) error {
	q := url.Values{}
	if opts.Agent != "" {
		q.Set("agent", opts.Agent)
	}
	if opts.Job != "" {
		q.Set("job", opts.Job)
	}
	if opts.Level != "" {
		q.Set("level", opts.Level)
	}
	if !opts.History {
		q.Set("history", "0")
	}
	if opts.HistoryLimit > 0 {
		q.Set("history_limit", fmt.Sprint(opts.HistoryLimit))
	}
	if opts.Follow {
		q.Set("follow", "1")
	}

	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.Dial("unix", c.socketPath)
		},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, "ws://control/v1/logs?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("control: dial logs stream: %w (is the fleet started?)", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var entry fleet.LogEntry
		if err := conn.ReadJSON(&entry); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || err == io.EOF {
				return nil
			}
			return err
		}
		onEntry(entry)
	}
}
