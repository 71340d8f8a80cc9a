// Package mcp exposes the backend over the Model Context Protocol so
// agent tooling can inspect routes, query channel state and publish
// events without going through a realtime client.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/server"
)

// Sidecar is a stdio MCP server bound to a route registry and its broker.
type Sidecar struct {
	srv    *mcpserver.MCPServer
	router *server.Router
}

// NewSidecar creates the sidecar and registers its tools.
func NewSidecar(router *server.Router) *Sidecar {
	s := &Sidecar{
		srv:    mcpserver.NewMCPServer("prpc", "1.0.0"),
		router: router,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the client disconnects.
func (s *Sidecar) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return mcpserver.ServeStdio(s.srv)
}

func (s *Sidecar) registerTools() {
	listRoutes := mcp.NewTool("list_routes",
		mcp.WithDescription("List registered channel routes with their types and events"),
	)
	s.srv.AddTool(listRoutes, s.handleListRoutes)

	channelMembers := mcp.NewTool("channel_members",
		mcp.WithDescription("List the current members of a presence channel"),
		mcp.WithString("route",
			mcp.Required(),
			mcp.Description("Route name, e.g. 'room'"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Channel instance id, e.g. '42'"),
		),
	)
	s.srv.AddTool(channelMembers, s.handleChannelMembers)

	channelStatus := mcp.NewTool("channel_status",
		mcp.WithDescription("Query broker state for one channel instance"),
		mcp.WithString("route",
			mcp.Required(),
			mcp.Description("Route name"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Channel instance id"),
		),
	)
	s.srv.AddTool(channelStatus, s.handleChannelStatus)

	triggerEvent := mcp.NewTool("trigger_event",
		mcp.WithDescription("Broadcast an event to all subscribers of a channel instance"),
		mcp.WithString("route",
			mcp.Required(),
			mcp.Description("Route name"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Channel instance id"),
		),
		mcp.WithString("event",
			mcp.Required(),
			mcp.Description("Event name to broadcast"),
		),
		mcp.WithObject("payload",
			mcp.Description("Event payload"),
		),
	)
	s.srv.AddTool(triggerEvent, s.handleTriggerEvent)
}

func (s *Sidecar) handleListRoutes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routes := s.router.Routes()
	out, err := json.Marshal(map[string]any{"routes": routes, "count": len(routes)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal routes: %v", err)), err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// channelFor resolves a (route, id) pair against the registry, applying
// the same public-type elision the RPC layer uses for trigger channels.
func (s *Sidecar) channelFor(routeName, id string) (channel.Channel, error) {
	for _, info := range s.router.Routes() {
		if info.Name != routeName {
			continue
		}
		typ := info.Type
		if typ == channel.Public {
			typ = ""
		}
		return channel.Channel{Type: typ, Name: info.Name, ID: id}, nil
	}
	return channel.Channel{}, fmt.Errorf("no route named %q", routeName)
}

func (s *Sidecar) handleChannelMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routeName, err := request.RequireString("route")
	if err != nil {
		return mcp.NewToolResultError("route is required and must be a string"), err
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required and must be a string"), err
	}

	ch, err := s.channelFor(routeName, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), err
	}
	if !ch.Type.HasMembers() {
		err := fmt.Errorf("channel %s carries no membership", ch)
		return mcp.NewToolResultError(err.Error()), err
	}

	body, err := s.router.API().Get(ctx, "/channels/"+ch.String()+"/users")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Broker query failed: %v", err)), err
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Sidecar) handleChannelStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routeName, err := request.RequireString("route")
	if err != nil {
		return mcp.NewToolResultError("route is required and must be a string"), err
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required and must be a string"), err
	}

	ch, err := s.channelFor(routeName, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), err
	}

	body, err := s.router.API().Get(ctx, "/channels/"+ch.String())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Broker query failed: %v", err)), err
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Sidecar) handleTriggerEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routeName, err := request.RequireString("route")
	if err != nil {
		return mcp.NewToolResultError("route is required and must be a string"), err
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required and must be a string"), err
	}
	event, err := request.RequireString("event")
	if err != nil {
		return mcp.NewToolResultError("event is required and must be a string"), err
	}

	ch, err := s.channelFor(routeName, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), err
	}

	var payload any
	if args, ok := request.GetRawArguments().(map[string]any); ok {
		payload = args["payload"]
	}

	if err := s.router.API().Trigger(ctx, ch.String(), event, payload); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to trigger event: %v", err)), err
	}
	return mcp.NewToolResultText(fmt.Sprintf("Triggered %s on %s", event, ch)), nil
}
