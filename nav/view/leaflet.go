package view

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"text/template"
	"time"

	"github.com/wonpark/navlink/geo"
)

// pageTemplate is the self-refreshing Leaflet page. The view data is
// injected as one JSON blob so the markup itself never changes shape.
const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>navlink</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body { height: 100%; margin: 0; } .navlink-map { height: 100%; }</style>
</head>
<body>
{{range .Views}}<div id="{{.ContainerID}}" class="navlink-map"></div>
<script>
(function () {
  var data = {{.Data}};
  var map = L.map(data.containerId).setView(data.center, data.zoom);
  if (data.tileUrl) {
    L.tileLayer(data.tileUrl, {attribution: data.attribution}).addTo(map);
  }
  data.markers.forEach(function (m) {
    L.circleMarker(m.coord, {
      radius: 8, color: m.color, fillColor: m.color, fillOpacity: 0.9
    }).addTo(map).bindPopup(m.id);
  });
  if (data.path.length > 1) {
    L.polyline(data.path, {color: "blue", weight: 3, opacity: 0.8}).addTo(map);
  }
})();
</script>
{{end}}{{if gt .RefreshMS 0}}<script>setTimeout(function () { location.reload(); }, {{.RefreshMS}});</script>
{{end}}</body>
</html>
`

var page = template.Must(template.New("map").Parse(pageTemplate))

// HTMLRenderer renders views into a static Leaflet page that a browser
// polls by reloading itself. It is the Go-side stand-in for a live map
// widget: every mutation rewrites the whole file, which makes all renderer
// operations naturally idempotent.
type HTMLRenderer struct {
	path    string
	refresh time.Duration

	mu    sync.Mutex
	next  ViewHandle
	order []ViewHandle
	views map[ViewHandle]*htmlView
}

type htmlView struct {
	containerID string
	center      geo.Coordinate
	zoom        int
	tileURL     string
	attribution string
	markers     map[string]geo.Coordinate
	markerOrder []string
	path        []geo.Coordinate
}

// NewHTMLRenderer writes the page to path on every change. A refresh of 0
// disables the auto-reload script.
func NewHTMLRenderer(path string, refresh time.Duration) *HTMLRenderer {
	return &HTMLRenderer{
		path:    path,
		refresh: refresh,
		views:   make(map[ViewHandle]*htmlView),
	}
}

// CreateView allocates a view and writes the initial page.
func (r *HTMLRenderer) CreateView(containerID string, center geo.Coordinate, zoom int) (ViewHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.views[h] = &htmlView{
		containerID: containerID,
		center:      center,
		zoom:        zoom,
		markers:     make(map[string]geo.Coordinate),
	}
	r.order = append(r.order, h)
	if err := r.render(); err != nil {
		delete(r.views, h)
		r.order = r.order[:len(r.order)-1]
		return 0, err
	}
	return h, nil
}

// SetView moves the viewport and rewrites the page.
func (r *HTMLRenderer) SetView(h ViewHandle, center geo.Coordinate, zoom int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.view(h)
	if err != nil {
		return err
	}
	v.center = center
	v.zoom = zoom
	return r.render()
}

// AddTileLayer installs the base layer and rewrites the page.
func (r *HTMLRenderer) AddTileLayer(h ViewHandle, urlTemplate, attribution string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.view(h)
	if err != nil {
		return err
	}
	v.tileURL = urlTemplate
	v.attribution = attribution
	return r.render()
}

// UpsertMarker places or moves a marker and rewrites the page.
func (r *HTMLRenderer) UpsertMarker(h ViewHandle, id string, at geo.Coordinate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.view(h)
	if err != nil {
		return err
	}
	if _, ok := v.markers[id]; !ok {
		v.markerOrder = append(v.markerOrder, id)
	}
	v.markers[id] = at
	return r.render()
}

// SetPath replaces the route polyline and rewrites the page.
func (r *HTMLRenderer) SetPath(h ViewHandle, points []geo.Coordinate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.view(h)
	if err != nil {
		return err
	}
	v.path = append([]geo.Coordinate(nil), points...)
	return r.render()
}

func (r *HTMLRenderer) view(h ViewHandle) (*htmlView, error) {
	v, ok := r.views[h]
	if !ok {
		return nil, fmt.Errorf("unknown view handle %d", h)
	}
	return v, nil
}

type pageMarker struct {
	ID    string     `json:"id"`
	Coord [2]float64 `json:"coord"`
	Color string     `json:"color"`
}

type pageData struct {
	ContainerID string       `json:"containerId"`
	Center      [2]float64   `json:"center"`
	Zoom        int          `json:"zoom"`
	TileURL     string       `json:"tileUrl"`
	Attribution string       `json:"attribution"`
	Markers     []pageMarker `json:"markers"`
	Path        [][2]float64 `json:"path"`
}

// markerColor maps the conventional marker ids to display colors; anything
// else renders gray.
func markerColor(id string) string {
	switch id {
	case "start":
		return "green"
	case "current":
		return "blue"
	case "destination":
		return "red"
	default:
		return "gray"
	}
}

// render rewrites the page atomically (write then rename) so a browser
// never reads a half-written file. Caller holds r.mu.
func (r *HTMLRenderer) render() error {
	type viewBlock struct {
		ContainerID string
		Data        string
	}
	var blocks []viewBlock
	for _, h := range r.order {
		v := r.views[h]
		data := pageData{
			ContainerID: v.containerID,
			Center:      [2]float64{v.center.Lat, v.center.Lon},
			Zoom:        v.zoom,
			TileURL:     v.tileURL,
			Attribution: v.attribution,
			Markers:     []pageMarker{},
			Path:        [][2]float64{},
		}
		for _, id := range v.markerOrder {
			at := v.markers[id]
			data.Markers = append(data.Markers, pageMarker{
				ID:    id,
				Coord: [2]float64{at.Lat, at.Lon},
				Color: markerColor(id),
			})
		}
		for _, pt := range v.path {
			data.Path = append(data.Path, [2]float64{pt.Lat, pt.Lon})
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal view data: %w", err)
		}
		blocks = append(blocks, viewBlock{ContainerID: v.containerID, Data: string(raw)})
	}

	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Views     []viewBlock
		RefreshMS int64
	}{Views: blocks, RefreshMS: r.refresh.Milliseconds()})
	if err != nil {
		return fmt.Errorf("render map page: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write map page: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("publish map page: %w", err)
	}
	return nil
}
