// Package routing fetches driving routes from OSRM and turns their steps
// into spoken guidance.
//
// The client asks for full GeoJSON geometry plus per-step maneuvers, so a
// route carries everything needed to draw a path and announce turns. Step
// selection for a moving position is a nearest-maneuver heuristic rather
// than full route matching, which is plenty for announcing the next turn.
package routing
