package view

import "github.com/wonpark/navlink/geo"

// ViewHandle identifies one created map view within a renderer.
type ViewHandle int

// Renderer is the capability interface the controller draws through. The
// controller depends on it but never implements rendering itself; HTMLRenderer
// is the shipped implementation and tests substitute their own.
//
// Implementations must make every call idempotent: repeating a call with the
// same arguments leaves the rendered output unchanged.
type Renderer interface {
	// CreateView creates a map view bound to a page container and returns
	// its handle.
	CreateView(containerID string, center geo.Coordinate, zoom int) (ViewHandle, error)

	// SetView moves the viewport.
	SetView(h ViewHandle, center geo.Coordinate, zoom int) error

	// AddTileLayer installs the base tile layer.
	AddTileLayer(h ViewHandle, urlTemplate, attribution string) error

	// UpsertMarker places or moves the marker with the given id.
	UpsertMarker(h ViewHandle, id string, at geo.Coordinate) error

	// SetPath replaces the drawn route polyline. An empty slice clears it.
	SetPath(h ViewHandle, points []geo.Coordinate) error
}
