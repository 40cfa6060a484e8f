// Package mcpclient validates that an agent's declared MCP tool servers
// are actually reachable: for each entry in agent.ToolServers/
// RunOptions.MCPServers it opens a client, runs the MCP initialize
// handshake, and lists tools, reporting per-server connectivity without
// keeping the connection open afterward — the QueryDriver (the CLI/SDK
// process under the hood) owns the live MCP session during a run; this
// package only answers "would this server work" ahead of time, e.g. for a
// `status`/doctor CLI surface.
//
// Grounded on the teacher's internal/mcp/manager_connect.go connect/
// handshake/list-tools sequence, narrowed from "connect, register tools,
// hold the connection open with a health loop" to a one-shot validation
// check — this system's QueryDriver (not this package) is what actually
// drives MCP tool calls during a job.
package mcpclient

import (
	"context"
	"fmt"
	"time"

	mcpclientlib "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/fleetsupervisor/fleetd/internal/driver"
)

// ServerStatus reports one server's validation outcome.
type ServerStatus struct {
	Name      string
	Connected bool
	ToolCount int
	Error     string
}

// Validate checks every named server in servers, in parallel, returning
// one ServerStatus per entry. It never returns an error itself — an
// unreachable server is reported in its ServerStatus, not surfaced as a
// Validate-level failure.
func Validate(ctx context.Context, servers map[string]driver.MCPServerSpec) []ServerStatus {
	statuses := make([]ServerStatus, len(servers))

	var g errgroup.Group
	i := 0
	for name, spec := range servers {
		idx, nm, sp := i, name, spec
		i++
		g.Go(func() error {
			statuses[idx] = validateOne(ctx, nm, sp)
			return nil
		})
	}
	g.Wait()
	return statuses
}

func validateOne(parent context.Context, name string, spec driver.MCPServerSpec) ServerStatus {
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	client, err := newClient(spec)
	if err != nil {
		return ServerStatus{Name: name, Error: fmt.Sprintf("create client: %v", err)}
	}
	defer client.Close()

	if spec.Type == "http" {
		if err := client.Start(ctx); err != nil {
			return ServerStatus{Name: name, Error: fmt.Sprintf("start transport: %v", err)}
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "fleetd", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return ServerStatus{Name: name, Error: fmt.Sprintf("initialize: %v", err)}
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return ServerStatus{Name: name, Error: fmt.Sprintf("list tools: %v", err)}
	}

	return ServerStatus{Name: name, Connected: true, ToolCount: len(toolsResult.Tools)}
}

func newClient(spec driver.MCPServerSpec) (*mcpclientlib.Client, error) {
	if spec.Type == "http" {
		var opts []transport.StreamableHTTPCOption
		if len(spec.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(spec.Headers))
		}
		return mcpclientlib.NewStreamableHttpClient(spec.URL, opts...)
	}
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return mcpclientlib.NewStdioMCPClient(spec.Command, env, spec.Args...)
}
