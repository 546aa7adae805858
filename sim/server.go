package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/geo/routing"
	"github.com/wonpark/navlink/nav/service"
	"github.com/wonpark/navlink/nav/track"
	"github.com/wonpark/navlink/transport/channel"
)

// requestTimeout bounds the geocoding and routing calls made on behalf of
// inbound frames.
const requestTimeout = 15 * time.Second

// Options configures the simulator server.
type Options struct {
	Geocoder service.Geocoder
	Router   service.Router

	RerouteThresholdM float64
	ArrivalThresholdM float64

	// Zoom is used for the first update after a destination is set,
	// FollowZoom while following the vehicle.
	Zoom       int
	FollowZoom int
}

// Server is the development guidance server. It tracks one shared drive,
// reacts to inbound frames, and fans updates out to every connected
// client.
type Server struct {
	router   *mux.Router
	hub      *Hub
	geocoder service.Geocoder
	planner  service.Router
	tracker  *track.Tracker

	zoom       int
	followZoom int

	mu          sync.Mutex
	start       geo.Coordinate
	hasStart    bool
	lastStepLoc geo.Coordinate
	hasLastStep bool
}

// NewServer creates a simulator server.
func NewServer(opts Options) *Server {
	if opts.Zoom <= 0 {
		opts.Zoom = 15
	}
	if opts.FollowZoom <= 0 {
		opts.FollowZoom = 14
	}

	s := &Server{
		router:     mux.NewRouter(),
		geocoder:   opts.Geocoder,
		planner:    opts.Router,
		tracker:    track.New(opts.RerouteThresholdM, opts.ArrivalThresholdM),
		zoom:       opts.Zoom,
		followZoom: opts.FollowZoom,
	}
	s.hub = NewHub(s.handleFrame)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/destination", s.handleSetDestination).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run drives the hub until the context ends.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HTTP handlers

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	resp := map[string]interface{}{
		"clients":    s.hub.ClientCount(),
		"navigating": snap.Navigating,
		"has_fix":    snap.HasFix,
	}
	if snap.HasFix {
		resp["current"] = channel.NewLatLng(snap.Current)
	}
	if snap.Navigating {
		resp["destination"] = channel.NewLatLng(snap.Destination)
		if snap.DestinationName != "" {
			resp["destination_name"] = snap.DestinationName
		}
		resp["remaining_m"] = snap.RemainingM
		if snap.Route != nil {
			resp["route_distance_m"] = snap.Route.Distance
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	var payload channel.DestinationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := s.applyDestination(r.Context(), payload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Destination set",
		"destination": channel.NewLatLng(snap.Destination),
		"name":        snap.DestinationName,
	})
}

// Inbound frame handling

func (s *Server) handleFrame(clientID string, data []byte) {
	env, err := channel.ParseEnvelope(data)
	if err != nil {
		log.Printf("client %s sent a malformed frame: %v", clientID, err)
		return
	}

	switch env.Kind {
	case channel.KindDestination:
		s.handleDestinationFrame(env)
	case channel.KindLocation:
		s.handleLocationFrame(env)
	case channel.KindCommand:
		s.handleCommandFrame(env)
	default:
		// Unknown kinds are ignored so clients can be upgraded first.
	}
}

func (s *Server) handleDestinationFrame(env channel.Envelope) {
	var payload channel.DestinationPayload
	if err := env.DecodePayload(&payload); err != nil {
		log.Printf("drop destination frame: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := s.applyDestination(ctx, payload); err != nil {
		log.Printf("set destination: %v", err)
	}
}

// applyDestination resolves the payload to a coordinate, starts the drive,
// and broadcasts the first update. It is shared by the WebSocket and REST
// entry points.
func (s *Server) applyDestination(ctx context.Context, payload channel.DestinationPayload) (track.Snapshot, error) {
	coord, ok := payload.Coordinate()
	name := payload.Address
	if !ok {
		if payload.Address == "" {
			return track.Snapshot{}, errors.New("destination needs an address or coordinates")
		}
		if s.geocoder == nil {
			return track.Snapshot{}, errors.New("no geocoder configured")
		}
		place, err := s.geocoder.Search(ctx, payload.Address)
		if err != nil {
			return track.Snapshot{}, fmt.Errorf("resolve %q: %w", payload.Address, err)
		}
		coord, name = place.Coordinate, place.DisplayName
	}

	s.tracker.SetDestination(coord, name)
	snap := s.tracker.Snapshot()

	s.mu.Lock()
	s.hasLastStep = false
	s.hasStart = snap.HasFix
	if snap.HasFix {
		s.start = snap.Current
	}
	start := s.start
	s.mu.Unlock()

	update := channel.UpdatePayload{
		Center: latLngPtr(coord),
		Zoom:   intPtr(s.zoom),
		Markers: map[string]channel.LatLng{
			"destination": channel.NewLatLng(coord),
		},
	}
	if snap.HasFix {
		update.Markers["start"] = channel.NewLatLng(start)
		update.Markers["current"] = channel.NewLatLng(snap.Current)
		if route := s.computeRoute(ctx, snap.Current, coord); route != nil {
			update.Path = toLatLngs(route.Geometry)
		}
	}
	s.broadcastUpdate(update)

	log.Printf("destination set: %s (%s)", name, coord)
	return s.tracker.Snapshot(), nil
}

func (s *Server) handleLocationFrame(env channel.Envelope) {
	var payload channel.LocationPayload
	if err := env.DecodePayload(&payload); err != nil {
		log.Printf("drop location frame: %v", err)
		return
	}
	c := payload.Coordinate()
	if c.IsZero() {
		return
	}

	s.tracker.UpdateLocation(c)
	snap := s.tracker.Snapshot()

	if !snap.Navigating {
		s.broadcastUpdate(channel.UpdatePayload{
			Center:  latLngPtr(c),
			Zoom:    intPtr(s.followZoom),
			Markers: map[string]channel.LatLng{"current": channel.NewLatLng(c)},
		})
		return
	}

	if s.tracker.Arrived(c) {
		s.finishDrive("You have arrived at your destination")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rerouted := false
	if snap.Route == nil || s.tracker.NeedsReroute(c) {
		if route := s.computeRoute(ctx, c, snap.Destination); route != nil {
			rerouted = true
			snap = s.tracker.Snapshot()
		}
	}

	update := channel.UpdatePayload{
		Center:  latLngPtr(c),
		Zoom:    intPtr(s.followZoom),
		Markers: map[string]channel.LatLng{"current": channel.NewLatLng(c)},
	}

	s.mu.Lock()
	if !s.hasStart {
		s.start, s.hasStart = c, true
	}
	update.Markers["start"] = channel.NewLatLng(s.start)
	s.mu.Unlock()
	update.Markers["destination"] = channel.NewLatLng(snap.Destination)

	if rerouted && snap.Route != nil {
		update.Path = toLatLngs(snap.Route.Geometry)
	}

	s.announceStep(snap, c, rerouted)
	s.broadcastUpdate(update)
}

// announceStep broadcasts guidance when the upcoming maneuver changes or
// the route was just recomputed.
func (s *Server) announceStep(snap track.Snapshot, c geo.Coordinate, rerouted bool) {
	if snap.Route == nil {
		return
	}
	step, distance, ok := snap.Route.NextStep(c)
	if !ok {
		return
	}

	s.mu.Lock()
	changed := rerouted || !s.hasLastStep || step.Location != s.lastStepLoc
	if changed {
		s.lastStepLoc, s.hasLastStep = step.Location, true
	}
	s.mu.Unlock()

	if changed {
		s.broadcastMessage(channel.KindVoiceGuidance, routing.FormatStep(step, distance))
	}
}

func (s *Server) handleCommandFrame(env channel.Envelope) {
	var payload channel.CommandPayload
	if err := env.DecodePayload(&payload); err != nil {
		log.Printf("drop command frame: %v", err)
		return
	}

	switch payload.Name {
	case channel.CommandStopNavigation:
		s.finishDrive("Navigation stopped")

	case channel.CommandReroute:
		snap := s.tracker.Snapshot()
		if !snap.Navigating || !snap.HasFix {
			log.Printf("reroute ignored without an active drive")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if route := s.computeRoute(ctx, snap.Current, snap.Destination); route != nil {
			snap = s.tracker.Snapshot()
			s.broadcastUpdate(channel.UpdatePayload{Path: toLatLngs(route.Geometry)})
			s.announceStep(snap, snap.Current, true)
		}

	default:
		log.Printf("unknown command %q", payload.Name)
	}
}

// finishDrive clears the drive and tells every client. Markers stay put;
// only the drawn route is removed.
func (s *Server) finishDrive(text string) {
	s.tracker.Clear()

	s.mu.Lock()
	s.hasLastStep = false
	s.hasStart = false
	s.mu.Unlock()

	s.broadcastMessage(channel.KindNavigationEnd, text)
	s.broadcastUpdate(channel.UpdatePayload{Path: []channel.LatLng{}})
}

func (s *Server) computeRoute(ctx context.Context, from, to geo.Coordinate) *routing.Route {
	if s.planner == nil {
		return nil
	}
	route, err := s.planner.Route(ctx, from, to)
	if err != nil {
		log.Printf("route %s -> %s: %v", from, to, err)
		return nil
	}
	s.tracker.SetRoute(route, from)
	return route
}

func (s *Server) broadcastUpdate(payload channel.UpdatePayload) {
	env, err := channel.NewEnvelope(channel.KindUpdate, payload)
	if err != nil {
		log.Printf("build update frame: %v", err)
		return
	}
	s.hub.Broadcast(env)
}

func (s *Server) broadcastMessage(kind, text string) {
	env, err := channel.NewEnvelope(kind, channel.MessagePayload{Message: text})
	if err != nil {
		log.Printf("build %s frame: %v", kind, err)
		return
	}
	s.hub.Broadcast(env)
}

func latLngPtr(c geo.Coordinate) *channel.LatLng {
	ll := channel.NewLatLng(c)
	return &ll
}

func intPtr(v int) *int { return &v }

func toLatLngs(points []geo.Coordinate) []channel.LatLng {
	out := make([]channel.LatLng, len(points))
	for i, p := range points {
		out[i] = channel.NewLatLng(p)
	}
	return out
}
