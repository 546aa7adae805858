package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/geo/geocoding"
	"github.com/wonpark/navlink/geo/routing"
	"github.com/wonpark/navlink/nav/service"
)

// Controller is the slice of the navigation service the tools drive.
// *service.Service satisfies it.
type Controller interface {
	NavigateTo(ctx context.Context, address string) error
	NavigateToCoords(ctx context.Context, c geo.Coordinate) error
	ReportLocation(ctx context.Context, c geo.Coordinate) error
	StopNavigation(ctx context.Context) error
	Reroute(ctx context.Context) error
	WhereAmI(ctx context.Context) (geocoding.Place, error)
	Status() service.Status
}

// Server exposes a navigation controller over MCP
type Server struct {
	nav       Controller
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server around a navigation controller
func NewServer(nav Controller) *Server {
	s := &Server{nav: nav}
	s.initMCPServer()
	return s
}

// initMCPServer initializes the MCP server with all tools
func (s *Server) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		"Navlink Navigation",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Navlink Navigation - MCP Interface

Remote control for a vehicle navigation client. The client keeps a live
WebSocket channel to its guidance server; every tool call goes through
that running service.

TYPICAL FLOW:
1. navigate_to (or navigate_to_coords) starts a drive
2. report_location feeds positions while driving (bench setups without GPS)
3. nav_status shows connection state, position, and the next maneuver
4. stop_navigation ends the drive early

AVAILABLE TOOLS:
- navigate_to: Geocode an address and set it as the destination
- navigate_to_coords: Set the destination from raw coordinates
- report_location: Report the vehicle position
- stop_navigation: End the current drive
- reroute: Ask the guidance server for a fresh route
- nav_status: Connection state, position, and remaining distance
- where_am_i: Reverse geocode the current position

NOTE: navigate_to and where_am_i call external geocoding; they can take a
few seconds and are rate limited to one request per second.`),
	)

	// Register all tools
	s.registerTools()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "navigate_to",
		Description: "Geocode an address and start navigating to it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"address": map[string]interface{}{
					"type":        "string",
					"description": "Free-form destination address or place name",
				},
			},
			Required: []string{"address"},
		},
	}, s.handleNavigateTo)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "navigate_to_coords",
		Description: "Start navigating to a destination given as coordinates",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Destination latitude in decimal degrees",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Destination longitude in decimal degrees",
				},
			},
			Required: []string{"latitude", "longitude"},
		},
	}, s.handleNavigateToCoords)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "report_location",
		Description: "Report the vehicle position to the guidance server. Useful on bench setups without a GPS receiver.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Current latitude in decimal degrees",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Current longitude in decimal degrees",
				},
			},
			Required: []string{"latitude", "longitude"},
		},
	}, s.handleReportLocation)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "stop_navigation",
		Description: "End the current drive and clear the route",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleStopNavigation)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "reroute",
		Description: "Ask the guidance server to recompute the route from the current position",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleReroute)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "nav_status",
		Description: "Get connection state, current position, and drive progress",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleNavStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "where_am_i",
		Description: "Reverse geocode the current position into a human-readable place",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleWhereAmI)
}

// GetMCPServer returns the underlying MCP server for serving
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// Tool handlers

func (s *Server) handleNavigateTo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	address, _ := args["address"].(string)
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	if err := s.nav.NavigateTo(ctx, address); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status := s.nav.Status()
	result := fmt.Sprintf("Navigating to %s\n\n%s", status.Drive.DestinationName, formatStatus(status))
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleNavigateToCoords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	lat, latOK := args["latitude"].(float64)
	lon, lonOK := args["longitude"].(float64)
	if !latOK || !lonOK {
		return mcp.NewToolResultError("latitude and longitude are required numbers"), nil
	}

	dest := geo.Coordinate{Lat: lat, Lon: lon}
	if err := s.nav.NavigateToCoords(ctx, dest); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Navigating to %s\n\n%s", dest, formatStatus(s.nav.Status()))
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleReportLocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	lat, latOK := args["latitude"].(float64)
	lon, lonOK := args["longitude"].(float64)
	if !latOK || !lonOK {
		return mcp.NewToolResultError("latitude and longitude are required numbers"), nil
	}

	pos := geo.Coordinate{Lat: lat, Lon: lon}
	if err := s.nav.ReportLocation(ctx, pos); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Reported position %s\n\n%s", pos, formatStatus(s.nav.Status()))
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleStopNavigation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.nav.StopNavigation(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Navigation stopped\n\n%s", formatStatus(s.nav.Status()))
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleReroute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.nav.Reroute(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Requested a fresh route\n\n%s", formatStatus(s.nav.Status()))
	return mcp.NewToolResultText(result), nil
}

func (s *Server) handleNavStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatStatus(s.nav.Status())), nil
}

func (s *Server) handleWhereAmI(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	place, err := s.nav.WhereAmI(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("You are near %s (%s)", place.DisplayName, place.Coordinate)
	return mcp.NewToolResultText(result), nil
}

// Formatting helpers

func formatStatus(status service.Status) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Connection: %s\n", status.Connection))

	drive := status.Drive
	if drive.HasFix {
		b.WriteString(fmt.Sprintf("Position: %s\n", drive.Current))
	} else {
		b.WriteString("Position: no fix yet\n")
	}

	if !drive.Navigating {
		b.WriteString("Navigation: idle")
		return b.String()
	}

	destination := drive.DestinationName
	if destination == "" {
		destination = drive.Destination.String()
	}
	b.WriteString(fmt.Sprintf("Navigating to: %s\n", destination))

	if drive.HasFix {
		b.WriteString(fmt.Sprintf("Remaining: %s\n", routing.FormatDistance(drive.RemainingM)))
	}
	if drive.Route != nil {
		b.WriteString(fmt.Sprintf("Route: %s, about %s\n",
			routing.FormatDistance(drive.Route.Distance), formatDuration(drive.Route.Duration)))
		if drive.HasFix {
			if instruction, ok := drive.Route.Guidance(drive.Current); ok {
				b.WriteString(fmt.Sprintf("Next: %s\n", instruction))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatDuration renders OSRM's duration seconds as rough travel time
func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Minute)
	if d < time.Minute {
		return "under a minute"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dmin", hours, minutes)
	}
	return fmt.Sprintf("%d min", minutes)
}
