package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/geo/geocoding"
	"github.com/wonpark/navlink/geo/routing"
	"github.com/wonpark/navlink/transport/channel"
)

type fakeGeocoder struct {
	mu    sync.Mutex
	place geocoding.Place
	err   error
}

func (f *fakeGeocoder) Search(_ context.Context, _ string) (geocoding.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.place, f.err
}

func (f *fakeGeocoder) Reverse(_ context.Context, _ geo.Coordinate) (geocoding.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.place, f.err
}

// fakePlanner returns a two-step straight-line route.
type fakePlanner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePlanner) Route(_ context.Context, from, to geo.Coordinate) (*routing.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &routing.Route{
		Distance: from.Distance(to),
		Duration: from.Distance(to) / 14,
		Geometry: []geo.Coordinate{from, to},
		Steps: []routing.Step{
			{Name: "Jungang-daero", Location: from, Maneuver: routing.Maneuver{Type: "depart"}},
			{Location: to, Maneuver: routing.Maneuver{Type: "arrive"}},
		},
	}, nil
}

func (f *fakePlanner) routeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type simFixture struct {
	srv     *Server
	ts      *httptest.Server
	gc      *fakeGeocoder
	planner *fakePlanner
}

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()

	f := &simFixture{gc: &fakeGeocoder{}, planner: &fakePlanner{}}
	f.srv = NewServer(Options{
		Geocoder:          f.gc,
		Router:            f.planner,
		RerouteThresholdM: 10,
		ArrivalThresholdM: 20,
		Zoom:              15,
		FollowZoom:        14,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go f.srv.Run(ctx)

	f.ts = httptest.NewServer(f.srv)
	t.Cleanup(func() {
		cancel()
		f.ts.Close()
	})
	return f
}

func (f *simFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The register handoff is asynchronous; broadcasts before it lands
	// would miss this client.
	waitCond(t, "client registered", func() bool { return f.srv.hub.ClientCount() >= 1 })
	return conn
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readFrame(t *testing.T, conn *websocket.Conn) channel.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := channel.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	env, err := channel.NewEnvelope(kind, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func decodeUpdate(t *testing.T, env channel.Envelope) channel.UpdatePayload {
	t.Helper()
	if env.Kind != channel.KindUpdate {
		t.Fatalf("kind = %q, want update", env.Kind)
	}
	var p channel.UpdatePayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return p
}

func decodeMessage(t *testing.T, env channel.Envelope, wantKind string) string {
	t.Helper()
	if env.Kind != wantKind {
		t.Fatalf("kind = %q, want %s", env.Kind, wantKind)
	}
	var p channel.MessagePayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("decode %s: %v", wantKind, err)
	}
	return p.Message
}

func coordPayload(c geo.Coordinate) channel.DestinationPayload {
	lat, lon := c.Lat, c.Lon
	return channel.DestinationPayload{Latitude: &lat, Longitude: &lon}
}

func locationPayload(c geo.Coordinate) channel.LocationPayload {
	return channel.LocationPayload{Latitude: c.Lat, Longitude: c.Lon}
}

func getState(t *testing.T, f *simFixture) map[string]any {
	t.Helper()
	resp, err := http.Get(f.ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	defer resp.Body.Close()
	var state map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func TestHealth(t *testing.T) {
	f := newSimFixture(t)

	resp, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestStateBeforeAnyDrive(t *testing.T) {
	f := newSimFixture(t)

	state := getState(t, f)
	if state["navigating"] != false || state["has_fix"] != false {
		t.Errorf("unexpected state %v", state)
	}
	if state["clients"] != float64(0) {
		t.Errorf("clients = %v, want 0", state["clients"])
	}
}

func TestDestinationViaREST(t *testing.T) {
	f := newSimFixture(t)
	dest := geo.Coordinate{Lat: 35.1587, Lon: 129.1604}
	f.gc.place = geocoding.Place{Coordinate: dest, DisplayName: "Haeundae Beach, Busan"}

	conn := f.dial(t)

	resp, err := http.Post(f.ts.URL+"/api/destination", "application/json",
		strings.NewReader(`{"address": "Haeundae Beach"}`))
	if err != nil {
		t.Fatalf("post destination: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	update := decodeUpdate(t, readFrame(t, conn))
	if update.Center == nil || update.Center.Coordinate() != dest {
		t.Errorf("update center = %v, want destination", update.Center)
	}
	if update.Zoom == nil || *update.Zoom != 15 {
		t.Errorf("update zoom = %v, want 15", update.Zoom)
	}
	if _, ok := update.Markers["destination"]; !ok {
		t.Errorf("destination marker missing, markers = %v", update.Markers)
	}
	// No fix yet, so no start marker and no route.
	if _, ok := update.Markers["start"]; ok {
		t.Error("start marker without a fix")
	}
	if update.Path != nil {
		t.Error("path without a fix")
	}

	state := getState(t, f)
	if state["navigating"] != true || state["destination_name"] != "Haeundae Beach, Busan" {
		t.Errorf("unexpected state %v", state)
	}
}

func TestDestinationViaRESTRejectsEmpty(t *testing.T) {
	f := newSimFixture(t)

	resp, err := http.Post(f.ts.URL+"/api/destination", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDestinationViaRESTGeocodeFailure(t *testing.T) {
	f := newSimFixture(t)
	f.gc.err = errors.New("nominatim down")

	resp, err := http.Post(f.ts.URL+"/api/destination", "application/json",
		strings.NewReader(`{"address": "nowhere"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDriveFlow(t *testing.T) {
	f := newSimFixture(t)
	conn := f.dial(t)

	start := geo.Coordinate{Lat: 35.1000, Lon: 129.0000}
	nearStart := geo.Coordinate{Lat: 35.100045, Lon: 129.0000} // ~5m north
	dest := geo.Coordinate{Lat: 35.1050, Lon: 129.0000}        // ~556m north

	// Destination first, before any fix.
	sendFrame(t, conn, channel.KindDestination, coordPayload(dest))
	first := decodeUpdate(t, readFrame(t, conn))
	if _, ok := first.Markers["destination"]; !ok {
		t.Fatalf("first update lacks destination marker: %v", first.Markers)
	}
	if first.Path != nil {
		t.Error("route before the first fix")
	}

	// First fix: route is computed, guidance is announced, view follows.
	sendFrame(t, conn, channel.KindLocation, locationPayload(start))
	voice := decodeMessage(t, readFrame(t, conn), channel.KindVoiceGuidance)
	if voice != "In 560m, you will arrive at your destination" {
		t.Errorf("guidance = %q", voice)
	}
	follow := decodeUpdate(t, readFrame(t, conn))
	if follow.Center == nil || follow.Center.Coordinate() != start {
		t.Errorf("follow center = %v, want current position", follow.Center)
	}
	if follow.Zoom == nil || *follow.Zoom != 14 {
		t.Errorf("follow zoom = %v, want 14", follow.Zoom)
	}
	for _, id := range []string{"start", "current", "destination"} {
		if _, ok := follow.Markers[id]; !ok {
			t.Errorf("marker %q missing: %v", id, follow.Markers)
		}
	}
	if len(follow.Path) != 2 {
		t.Errorf("path length = %d, want 2", len(follow.Path))
	}

	// A small move: same maneuver, still on route. The very next frame
	// must be an update, proving no guidance was re-announced.
	sendFrame(t, conn, channel.KindLocation, locationPayload(nearStart))
	second := decodeUpdate(t, readFrame(t, conn))
	if second.Center == nil || second.Center.Coordinate() != nearStart {
		t.Errorf("second center = %v", second.Center)
	}
	if second.Path != nil {
		t.Error("path re-sent without a reroute")
	}

	// Arrival.
	sendFrame(t, conn, channel.KindLocation, locationPayload(dest))
	endMsg := decodeMessage(t, readFrame(t, conn), channel.KindNavigationEnd)
	if endMsg != "You have arrived at your destination" {
		t.Errorf("end message = %q", endMsg)
	}
	clear := decodeUpdate(t, readFrame(t, conn))
	if clear.Path == nil || len(clear.Path) != 0 {
		t.Errorf("final update should carry an empty path, got %v", clear.Path)
	}

	if got := f.planner.routeCalls(); got != 1 {
		t.Errorf("route calls = %d, want 1", got)
	}
	state := getState(t, f)
	if state["navigating"] != false || state["has_fix"] != true {
		t.Errorf("unexpected state after arrival %v", state)
	}
}

func TestRerouteOnDrift(t *testing.T) {
	f := newSimFixture(t)
	conn := f.dial(t)

	start := geo.Coordinate{Lat: 35.1000, Lon: 129.0000}
	drifted := geo.Coordinate{Lat: 35.10045, Lon: 129.0000} // ~50m north
	dest := geo.Coordinate{Lat: 35.2000, Lon: 129.0000}

	sendFrame(t, conn, channel.KindDestination, coordPayload(dest))
	readFrame(t, conn) // first update

	sendFrame(t, conn, channel.KindLocation, locationPayload(start))
	readFrame(t, conn) // guidance
	readFrame(t, conn) // follow update

	sendFrame(t, conn, channel.KindLocation, locationPayload(drifted))
	// A recompute re-announces guidance and re-sends the path.
	decodeMessage(t, readFrame(t, conn), channel.KindVoiceGuidance)
	update := decodeUpdate(t, readFrame(t, conn))
	if len(update.Path) != 2 {
		t.Fatalf("rerouted path length = %d, want 2", len(update.Path))
	}
	if update.Path[0].Coordinate() != drifted {
		t.Errorf("rerouted path starts at %v, want the drifted position", update.Path[0])
	}

	if got := f.planner.routeCalls(); got != 2 {
		t.Errorf("route calls = %d, want 2", got)
	}
}

func TestStopNavigationCommand(t *testing.T) {
	f := newSimFixture(t)
	conn := f.dial(t)

	start := geo.Coordinate{Lat: 35.1000, Lon: 129.0000}
	dest := geo.Coordinate{Lat: 35.2000, Lon: 129.0000}

	sendFrame(t, conn, channel.KindDestination, coordPayload(dest))
	readFrame(t, conn)
	sendFrame(t, conn, channel.KindLocation, locationPayload(start))
	readFrame(t, conn)
	readFrame(t, conn)

	sendFrame(t, conn, channel.KindCommand, channel.CommandPayload{Name: channel.CommandStopNavigation})

	if msg := decodeMessage(t, readFrame(t, conn), channel.KindNavigationEnd); msg != "Navigation stopped" {
		t.Errorf("end message = %q", msg)
	}
	clear := decodeUpdate(t, readFrame(t, conn))
	if clear.Path == nil || len(clear.Path) != 0 {
		t.Errorf("expected an empty path, got %v", clear.Path)
	}

	state := getState(t, f)
	if state["navigating"] != false {
		t.Errorf("drive not cleared: %v", state)
	}
}

func TestRerouteCommand(t *testing.T) {
	f := newSimFixture(t)
	conn := f.dial(t)

	start := geo.Coordinate{Lat: 35.1000, Lon: 129.0000}
	dest := geo.Coordinate{Lat: 35.2000, Lon: 129.0000}

	sendFrame(t, conn, channel.KindDestination, coordPayload(dest))
	readFrame(t, conn)
	sendFrame(t, conn, channel.KindLocation, locationPayload(start))
	readFrame(t, conn)
	readFrame(t, conn)

	sendFrame(t, conn, channel.KindCommand, channel.CommandPayload{Name: channel.CommandReroute})

	update := decodeUpdate(t, readFrame(t, conn))
	if len(update.Path) != 2 {
		t.Fatalf("path length = %d, want 2", len(update.Path))
	}
	decodeMessage(t, readFrame(t, conn), channel.KindVoiceGuidance)

	if got := f.planner.routeCalls(); got != 2 {
		t.Errorf("route calls = %d, want 2", got)
	}
}

func TestMalformedAndUnknownFramesIgnored(t *testing.T) {
	f := newSimFixture(t)
	conn := f.dial(t)

	// Neither of these should produce a broadcast.
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendFrame(t, conn, "telemetry", map[string]int{"rpm": 900})

	// A bare location frame follows the vehicle without starting a drive.
	loc := geo.Coordinate{Lat: 35.1234, Lon: 129.0456}
	sendFrame(t, conn, channel.KindLocation, locationPayload(loc))

	update := decodeUpdate(t, readFrame(t, conn))
	if update.Center == nil || update.Center.Coordinate() != loc {
		t.Errorf("center = %v, want the reported location", update.Center)
	}
	if _, ok := update.Markers["destination"]; ok {
		t.Error("destination marker without a drive")
	}
	if update.Zoom == nil || *update.Zoom != 14 {
		t.Errorf("zoom = %v, want follow zoom", update.Zoom)
	}
}
