package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wonpark/navlink/geo"
)

const osrmFixture = `{
  "code": "Ok",
  "routes": [{
    "distance": 5321.7,
    "duration": 612.3,
    "geometry": {"type": "LineString", "coordinates": [[129.0403,35.1151],[129.0861,35.1299],[129.1306,35.1470]]},
    "legs": [{"steps": [
      {"distance": 2400.0, "name": "Jungang-daero", "maneuver": {"type": "depart", "modifier": "", "location": [129.0403,35.1151]}},
      {"distance": 2900.0, "name": "Gwangan-daero", "maneuver": {"type": "turn", "modifier": "right", "location": [129.0861,35.1299]}},
      {"distance": 0.0, "name": "", "maneuver": {"type": "arrive", "location": [129.1306,35.1470]}}
    ]}]
  }]
}`

func TestRoute(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(osrmFixture))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	from := geo.Coordinate{Lat: 35.1151, Lon: 129.0403}
	to := geo.Coordinate{Lat: 35.1470, Lon: 129.1306}

	route, err := c.Route(context.Background(), from, to)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	// OSRM wants lon,lat and the origin first.
	if !strings.Contains(gotPath, "/route/v1/driving/129.040300,35.115100;129.130600,35.147000") {
		t.Errorf("unexpected request path %s", gotPath)
	}
	for _, param := range []string{"overview=full", "geometries=geojson", "steps=true"} {
		if !strings.Contains(gotQuery, param) {
			t.Errorf("query missing %s, got %s", param, gotQuery)
		}
	}

	if route.Distance != 5321.7 {
		t.Errorf("distance = %v, want 5321.7", route.Distance)
	}
	if route.Duration != 612.3 {
		t.Errorf("duration = %v, want 612.3", route.Duration)
	}
	if len(route.Geometry) != 3 {
		t.Fatalf("geometry length = %d, want 3", len(route.Geometry))
	}
	// GeoJSON pairs are lon,lat and must come back swapped.
	if route.Geometry[0].Lat != 35.1151 || route.Geometry[0].Lon != 129.0403 {
		t.Errorf("geometry[0] = %v, axes look swapped", route.Geometry[0])
	}
	if len(route.Steps) != 3 {
		t.Fatalf("steps length = %d, want 3", len(route.Steps))
	}
	if route.Steps[1].Maneuver.Type != "turn" || route.Steps[1].Maneuver.Modifier != "right" {
		t.Errorf("unexpected maneuver %+v", route.Steps[1].Maneuver)
	}
	if route.Steps[1].Location.Lat != 35.1299 {
		t.Errorf("step location = %v, axes look swapped", route.Steps[1].Location)
	}
}

func TestRouteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "NoRoute", "message": "Impossible route between points"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Route(context.Background(), geo.Coordinate{Lat: 1}, geo.Coordinate{Lat: 2})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteEmptyRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "Ok", "routes": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Route(context.Background(), geo.Coordinate{Lat: 1}, geo.Coordinate{Lat: 2})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "InvalidQuery", "message": "Query string malformed"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Route(context.Background(), geo.Coordinate{Lat: 1}, geo.Coordinate{Lat: 2})
	if err == nil || errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected a non-NoRoute error, got %v", err)
	}
	if !strings.Contains(err.Error(), "InvalidQuery") {
		t.Errorf("error should carry the OSRM code, got %v", err)
	}
}
