// Package sim is the development stand-in for the guidance server.
//
// It accepts WebSocket clients, tracks one shared drive, and broadcasts
// update, voice_guidance, and navigation_end frames as destination,
// location, and command frames arrive. A small REST surface (/api/state,
// /api/destination, /health) exists for scripting and checks. Geocoding
// and routing are injected, so tests run against fakes and production
// points at Nominatim and OSRM.
package sim
