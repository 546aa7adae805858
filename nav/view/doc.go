// Package view implements the map view controller: the renderable state of
// the navigation display and the logic that keeps a map widget in sync with
// update frames arriving over the channel.
//
// The Controller owns the ViewState (viewport center, zoom, markers keyed by
// id, route polyline) and is driven entirely by ApplyUpdate. It draws
// through the Renderer capability interface rather than any concrete map
// widget, so the display technology stays swappable and tests run against a
// recording fake.
//
// Behavior:
//   - Initialize creates the view exactly once; re-initialization fails
//     with ErrAlreadyInitialized.
//   - ApplyUpdate merges "update" frames into the state and performs one
//     render pass covering only the fields that actually changed. Unknown
//     frame kinds are ignored so newer servers can ship new kinds without
//     breaking older clients.
//   - Rendering is idempotent: the same update applied twice results in no
//     renderer calls the second time, and markers never duplicate because
//     they are keyed by id.
//
// HTMLRenderer is the bundled Renderer: it writes a self-refreshing Leaflet
// page to disk, which is how the in-car display consumes the map.
package view
