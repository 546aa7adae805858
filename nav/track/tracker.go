package track

import (
	"sync"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/geo/routing"
)

const (
	defaultRerouteThresholdM = 10
	defaultArrivalThresholdM = 20
)

// Tracker is the in-memory record of the active drive. It holds no
// history and nothing survives a restart.
type Tracker struct {
	mu                sync.RWMutex
	rerouteThresholdM float64
	arrivalThresholdM float64

	current geo.Coordinate
	hasFix  bool

	navigating      bool
	destination     geo.Coordinate
	destinationName string
	route           *routing.Route
	routedFrom      geo.Coordinate
}

// Snapshot is a point-in-time copy of the drive state.
type Snapshot struct {
	Current geo.Coordinate
	HasFix  bool

	Navigating      bool
	Destination     geo.Coordinate
	DestinationName string
	// Route is shared, not copied; routes are never mutated after they
	// are set.
	Route *routing.Route
	// RemainingM is the straight-line distance to the destination, zero
	// unless navigating with a fix.
	RemainingM float64
}

// New builds a tracker. Non-positive thresholds fall back to the
// defaults of 10m for rerouting and 20m for arrival.
func New(rerouteThresholdM, arrivalThresholdM float64) *Tracker {
	if rerouteThresholdM <= 0 {
		rerouteThresholdM = defaultRerouteThresholdM
	}
	if arrivalThresholdM <= 0 {
		arrivalThresholdM = defaultArrivalThresholdM
	}
	return &Tracker{
		rerouteThresholdM: rerouteThresholdM,
		arrivalThresholdM: arrivalThresholdM,
	}
}

// UpdateLocation records the latest position fix.
func (t *Tracker) UpdateLocation(c geo.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = c
	t.hasFix = true
}

// SetDestination starts a drive toward c. Any route computed for a
// previous destination is dropped.
func (t *Tracker) SetDestination(c geo.Coordinate, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destination = c
	t.destinationName = name
	t.navigating = true
	t.route = nil
	t.routedFrom = geo.Coordinate{}
}

// SetRoute records the active route and the position it was computed
// from.
func (t *Tracker) SetRoute(route *routing.Route, origin geo.Coordinate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.route = route
	t.routedFrom = origin
}

// Clear ends the drive and forgets the destination and route. The last
// known position is kept.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.navigating = false
	t.destination = geo.Coordinate{}
	t.destinationName = ""
	t.route = nil
	t.routedFrom = geo.Coordinate{}
}

// NeedsReroute reports whether c has drifted far enough from the route
// origin that the route should be recomputed.
func (t *Tracker) NeedsReroute(c geo.Coordinate) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.navigating || t.route == nil {
		return false
	}
	return c.Distance(t.routedFrom) > t.rerouteThresholdM
}

// Arrived reports whether c is within the arrival threshold of the
// destination.
func (t *Tracker) Arrived(c geo.Coordinate) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.navigating {
		return false
	}
	return c.Distance(t.destination) <= t.arrivalThresholdM
}

// Snapshot returns a copy of the current drive state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		Current:         t.current,
		HasFix:          t.hasFix,
		Navigating:      t.navigating,
		Destination:     t.destination,
		DestinationName: t.destinationName,
		Route:           t.route,
	}
	if t.navigating && t.hasFix {
		s.RemainingM = t.current.Distance(t.destination)
	}
	return s
}
