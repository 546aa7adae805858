// Package mcp exposes the navigation service over the Model Context Protocol.
//
// The mcp package implements:
//   - MCP server for LLM agent integration
//   - Tool definitions for destination, position, and drive control
//   - Text rendering of connection state and drive progress
//
// MCP Tools:
//
// The package exposes the following tools:
//   - navigate_to: geocode an address and start a drive
//   - navigate_to_coords: start a drive from raw coordinates
//   - report_location: feed the vehicle position (bench setups without GPS)
//   - stop_navigation: end the current drive
//   - reroute: force a fresh route from the current position
//   - nav_status: connection state, position, and remaining distance
//   - where_am_i: reverse geocode the current position
//
// Every tool drives the same running service the console client uses, so
// the map view and the guidance server see MCP-issued commands exactly
// like keyboard-issued ones.
//
// Usage:
//
//	srv := mcp.NewServer(navService)
//	server.ServeStdio(srv.GetMCPServer())
//
// Stdout belongs to the MCP transport in this mode; logs and guidance
// must go to stderr (see service.LogAnnouncer).
package mcp
