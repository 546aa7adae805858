package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wonpark/navlink/geo"
)

// Message kinds exchanged with the guidance server. Unknown kinds are
// ignored by both sides so either end can be upgraded independently.
const (
	// Server to client.
	KindUpdate        = "update"
	KindVoiceGuidance = "voice_guidance"
	KindNavigationEnd = "navigation_end"

	// Client to server.
	KindDestination = "destination"
	KindLocation    = "location"
	KindCommand     = "command"
)

// Command names carried by KindCommand payloads.
const (
	CommandStopNavigation = "stop_navigation"
	CommandReroute        = "reroute"
)

// Envelope is the wire form of every frame: a kind tag and a raw payload
// decoded per kind by whoever consumes it.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes one text frame. A frame that is not a JSON object
// or carries no kind is malformed.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Kind == "" {
		return Envelope{}, errors.New("malformed frame: missing kind")
	}
	return env, nil
}

// NewEnvelope builds an envelope for sending, marshaling the payload.
func NewEnvelope(kind string, payload any) (Envelope, error) {
	env := Envelope{Kind: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// LatLng is the compact [lat, lon] array form used inside update payloads
// and paths.
type LatLng [2]float64

// NewLatLng converts a coordinate to its wire form.
func NewLatLng(c geo.Coordinate) LatLng {
	return LatLng{c.Lat, c.Lon}
}

// Coordinate converts the wire form back to a coordinate.
func (p LatLng) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p[0], Lon: p[1]}
}

// UpdatePayload is the payload of a KindUpdate frame. Every field is
// optional; absent fields leave the corresponding view state untouched.
// A present but empty path clears the drawn route, so Path must marshal
// even when empty; a nil Path encodes as null and means untouched.
type UpdatePayload struct {
	Center  *LatLng           `json:"center,omitempty"`
	Zoom    *int              `json:"zoom,omitempty"`
	Markers map[string]LatLng `json:"markers,omitempty"`
	Path    []LatLng          `json:"path"`
}

// MessagePayload carries the human-readable text of voice_guidance and
// navigation_end frames.
type MessagePayload struct {
	Message string `json:"message"`
}

// DestinationPayload names a navigation target either by address or by
// coordinates. Exactly one form is expected; coordinates win when both are
// present.
type DestinationPayload struct {
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Coordinate returns the coordinate form when both components are present.
func (p DestinationPayload) Coordinate() (geo.Coordinate, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: *p.Latitude, Lon: *p.Longitude}, true
}

// LocationPayload is a vehicle position report.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinate returns the position as a coordinate.
func (p LocationPayload) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: p.Latitude, Lon: p.Longitude}
}

// CommandPayload is a client control instruction.
type CommandPayload struct {
	Name string `json:"name"`
}
