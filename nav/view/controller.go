package view

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/transport/channel"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when the view is
	// already live.
	ErrAlreadyInitialized = errors.New("view: already initialized")

	// ErrNotInitialized is returned by ApplyUpdate before Initialize.
	ErrNotInitialized = errors.New("view: not initialized")
)

// State is the renderable snapshot of the map: viewport, markers keyed by
// id, and the active route polyline.
type State struct {
	Center  geo.Coordinate
	Zoom    int
	Markers map[string]geo.Coordinate
	Path    []geo.Coordinate
}

// Controller owns the map ViewState and keeps the renderer in sync with it.
// It consumes update frames from the channel; every other kind is ignored.
// State is mutated only through ApplyUpdate, and the renderer is only called
// for actual changes, so applying the same update twice draws nothing new.
type Controller struct {
	renderer    Renderer
	tileURL     string
	attribution string

	mu          sync.RWMutex
	initialized bool
	handle      ViewHandle
	state       State
}

// NewController creates a controller drawing through the given renderer.
// The tile layer is installed during Initialize; pass an empty tileURL to
// skip it.
func NewController(r Renderer, tileURL, attribution string) *Controller {
	return &Controller{renderer: r, tileURL: tileURL, attribution: attribution}
}

// Initialize creates the map view once. A second call while live fails with
// ErrAlreadyInitialized. On renderer failure nothing is committed and
// Initialize may be retried.
func (c *Controller) Initialize(containerID string, center geo.Coordinate, zoom int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return ErrAlreadyInitialized
	}

	h, err := c.renderer.CreateView(containerID, center, zoom)
	if err != nil {
		return fmt.Errorf("create view: %w", err)
	}
	if c.tileURL != "" {
		if err := c.renderer.AddTileLayer(h, c.tileURL, c.attribution); err != nil {
			return fmt.Errorf("add tile layer: %w", err)
		}
	}

	c.handle = h
	c.state = State{
		Center:  center,
		Zoom:    zoom,
		Markers: make(map[string]geo.Coordinate),
	}
	c.initialized = true
	return nil
}

// ApplyUpdate merges an update frame into the view state and re-renders the
// parts that changed. Frames of any other kind are ignored. A malformed
// payload is rejected without touching the state.
func (c *Controller) ApplyUpdate(env channel.Envelope) error {
	if env.Kind != channel.KindUpdate {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}

	var p channel.UpdatePayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}

	newCenter, newZoom := c.state.Center, c.state.Zoom
	if p.Center != nil {
		newCenter = p.Center.Coordinate()
	}
	if p.Zoom != nil {
		newZoom = *p.Zoom
	}
	viewChanged := newCenter != c.state.Center || newZoom != c.state.Zoom

	type markerChange struct {
		id string
		at geo.Coordinate
	}
	var moved []markerChange
	for id, ll := range p.Markers {
		at := ll.Coordinate()
		if cur, ok := c.state.Markers[id]; !ok || cur != at {
			moved = append(moved, markerChange{id: id, at: at})
		}
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].id < moved[j].id })

	var newPath []geo.Coordinate
	pathChanged := false
	if p.Path != nil {
		newPath = make([]geo.Coordinate, len(p.Path))
		for i, ll := range p.Path {
			newPath[i] = ll.Coordinate()
		}
		pathChanged = !pathEqual(newPath, c.state.Path)
	}

	// One render pass, touching only what changed. Nothing is committed on
	// renderer failure, so a retried update re-applies cleanly.
	if viewChanged {
		if err := c.renderer.SetView(c.handle, newCenter, newZoom); err != nil {
			return fmt.Errorf("set view: %w", err)
		}
	}
	for _, m := range moved {
		if err := c.renderer.UpsertMarker(c.handle, m.id, m.at); err != nil {
			return fmt.Errorf("upsert marker %s: %w", m.id, err)
		}
	}
	if pathChanged {
		if err := c.renderer.SetPath(c.handle, newPath); err != nil {
			return fmt.Errorf("set path: %w", err)
		}
	}

	c.state.Center = newCenter
	c.state.Zoom = newZoom
	for _, m := range moved {
		c.state.Markers[m.id] = m.at
	}
	if pathChanged {
		c.state.Path = newPath
	}
	return nil
}

// State returns a copy of the current view state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := State{
		Center: c.state.Center,
		Zoom:   c.state.Zoom,
	}
	if c.state.Markers != nil {
		out.Markers = make(map[string]geo.Coordinate, len(c.state.Markers))
		for id, at := range c.state.Markers {
			out.Markers[id] = at
		}
	}
	if c.state.Path != nil {
		out.Path = append([]geo.Coordinate(nil), c.state.Path...)
	}
	return out
}

// Initialized reports whether the view is live.
func (c *Controller) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func pathEqual(a, b []geo.Coordinate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
