package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonpark/navlink/geo"
)

// ErrNoRoute is returned when OSRM cannot connect the two points.
var ErrNoRoute = errors.New("routing: no route found")

// Route is a drivable path between two points.
type Route struct {
	// Distance is the total length in meters.
	Distance float64
	// Duration is the estimated travel time in seconds.
	Duration float64
	// Geometry is the full path, ordered from origin to destination.
	Geometry []geo.Coordinate
	// Steps are the maneuvers along the route, in driving order.
	Steps []Step
}

// Step is a single maneuver on a route.
type Step struct {
	// Distance is the length in meters from this maneuver to the next.
	Distance float64
	// Name is the road the step follows, possibly empty.
	Name string
	// Location is where the maneuver happens.
	Location geo.Coordinate
	Maneuver Maneuver
}

// Maneuver describes what the driver does at a step, using OSRM type and
// modifier vocabulary ("turn" + "sharp right", "on ramp", "arrive").
type Maneuver struct {
	Type     string
	Modifier string
}

// Client requests routes from an OSRM instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a routing client for the given OSRM base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Geometry osrmGeometry `json:"geometry"`
	Legs     []osrmLeg    `json:"legs"`
}

type osrmGeometry struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Name     string       `json:"name"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier"`
	Location []float64 `json:"location"`
}

// Route fetches a driving route from one coordinate to another.
func (c *Client) Route(ctx context.Context, from, to geo.Coordinate) (*Route, error) {
	// OSRM takes lon,lat pairs, the reverse of our convention.
	requestURL := fmt.Sprintf(
		"%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&steps=true",
		c.baseURL, from.Lon, from.Lat, to.Lon, to.Lat,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("routing: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routing request: %w", err)
	}
	defer resp.Body.Close()

	var decoded osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("routing: decode response: %w", err)
	}

	if decoded.Code != "Ok" {
		if decoded.Code == "NoRoute" {
			return nil, fmt.Errorf("%w between %s and %s", ErrNoRoute, from, to)
		}
		return nil, fmt.Errorf("routing: %s: %s", decoded.Code, decoded.Message)
	}
	if len(decoded.Routes) == 0 {
		return nil, fmt.Errorf("%w between %s and %s", ErrNoRoute, from, to)
	}

	return convertRoute(decoded.Routes[0]), nil
}

func convertRoute(r osrmRoute) *Route {
	route := &Route{
		Distance: r.Distance,
		Duration: r.Duration,
		Geometry: make([]geo.Coordinate, 0, len(r.Geometry.Coordinates)),
	}
	for _, pair := range r.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		route.Geometry = append(route.Geometry, geo.Coordinate{Lat: pair[1], Lon: pair[0]})
	}
	for _, leg := range r.Legs {
		for _, s := range leg.Steps {
			step := Step{
				Distance: s.Distance,
				Name:     s.Name,
				Maneuver: Maneuver{Type: s.Maneuver.Type, Modifier: s.Maneuver.Modifier},
			}
			if len(s.Maneuver.Location) >= 2 {
				step.Location = geo.Coordinate{Lat: s.Maneuver.Location[1], Lon: s.Maneuver.Location[0]}
			}
			route.Steps = append(route.Steps, step)
		}
	}
	return route
}
