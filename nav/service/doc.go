// Package service composes the navigation client.
//
// A Service owns the update channel, the map view controller, the drive
// tracker, and optionally a GPS feed. Start wires incoming frames to the
// right place: updates to the view, guidance to the Announcer, and
// navigation end to the tracker. The exported verbs (NavigateTo,
// ReportLocation, StopNavigation, ...) are what the CLI and the MCP tools
// call; they stay thin over the channel and tracker.
package service
