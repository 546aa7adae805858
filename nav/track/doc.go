// Package track keeps the state of the active drive: last fix,
// destination, and the route in use. It answers the two questions the
// drive loop keeps asking, whether to reroute and whether we have
// arrived.
package track
