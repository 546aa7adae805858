package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/geo/geocoding"
	"github.com/wonpark/navlink/geo/routing"
	"github.com/wonpark/navlink/gps"
	"github.com/wonpark/navlink/nav/track"
	"github.com/wonpark/navlink/nav/view"
	"github.com/wonpark/navlink/transport/channel"
)

// Geocoder resolves addresses. Implemented by geocoding.Client.
type Geocoder interface {
	Search(ctx context.Context, query string) (geocoding.Place, error)
	Reverse(ctx context.Context, c geo.Coordinate) (geocoding.Place, error)
}

// Router computes drivable routes. Implemented by routing.Client.
type Router interface {
	Route(ctx context.Context, from, to geo.Coordinate) (*routing.Route, error)
}

// Options wires a Service together. Channel, View, and Tracker are
// required; Feed is optional and Announcer defaults to the console.
type Options struct {
	Channel   *channel.Manager
	View      *view.Controller
	Tracker   *track.Tracker
	Geocoder  Geocoder
	Announcer Announcer
	Feed      *gps.Feed
}

// Service is the navigation client: it owns the update channel, keeps the
// map view and drive tracker in sync with incoming frames, and exposes
// the verbs the CLI and MCP surfaces call.
type Service struct {
	channel   *channel.Manager
	view      *view.Controller
	tracker   *track.Tracker
	geocoder  Geocoder
	announcer Announcer
	feed      *gps.Feed

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// Status is what the user-facing surfaces display.
type Status struct {
	Connection channel.State
	Drive      track.Snapshot
	View       view.State
}

// New builds a Service from its parts.
func New(opts Options) (*Service, error) {
	if opts.Channel == nil || opts.View == nil || opts.Tracker == nil {
		return nil, errors.New("service: channel, view, and tracker are required")
	}
	if opts.Announcer == nil {
		opts.Announcer = ConsoleAnnouncer{}
	}
	return &Service{
		channel:   opts.Channel,
		view:      opts.View,
		tracker:   opts.Tracker,
		geocoder:  opts.Geocoder,
		announcer: opts.Announcer,
		feed:      opts.Feed,
	}, nil
}

// Start subscribes the view and tracker to channel events, begins
// connecting, and, when a GPS feed is present, starts pumping fixes to
// the server. Handlers are registered before the first dial so no frame
// is missed.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service: already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.channel.OnKind(channel.KindUpdate, func(env channel.Envelope) {
		if err := s.view.ApplyUpdate(env); err != nil {
			log.Printf("apply update: %v", err)
		}
	})
	s.channel.OnKind(channel.KindVoiceGuidance, func(env channel.Envelope) {
		var payload channel.MessagePayload
		if err := env.DecodePayload(&payload); err != nil {
			log.Printf("decode guidance: %v", err)
			return
		}
		if payload.Message != "" {
			s.announcer.Announce(payload.Message)
		}
	})
	s.channel.OnKind(channel.KindNavigationEnd, func(env channel.Envelope) {
		s.tracker.Clear()
		var payload channel.MessagePayload
		if err := env.DecodePayload(&payload); err == nil && payload.Message != "" {
			s.announcer.Announce(payload.Message)
		} else {
			s.announcer.Announce("Navigation ended")
		}
	})
	s.channel.OnError(func(cerr *channel.ChannelError) {
		log.Printf("channel: %v", cerr)
	})
	s.channel.OnStateChange(func(state channel.State) {
		log.Printf("channel state: %s", state)
	})

	s.channel.Connect()

	if s.feed != nil {
		go func() {
			if err := s.feed.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("gps feed stopped: %v", err)
			}
		}()
		go s.pumpGPS(runCtx)
	}
	return nil
}

func (s *Service) pumpGPS(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case coord, ok := <-s.feed.Positions():
			if !ok {
				return
			}
			if err := s.ReportLocation(ctx, coord); err != nil {
				if errors.Is(err, channel.ErrNotConnected) {
					log.Printf("dropping fix while disconnected")
				} else {
					log.Printf("report location: %v", err)
				}
			}
		}
	}
}

// NavigateTo geocodes an address and starts navigating to it.
func (s *Service) NavigateTo(ctx context.Context, address string) error {
	if s.geocoder == nil {
		return errors.New("service: no geocoder configured")
	}
	place, err := s.geocoder.Search(ctx, address)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", address, err)
	}

	s.tracker.SetDestination(place.Coordinate, place.DisplayName)
	if err := s.channel.SendDestinationCoords(place.Coordinate); err != nil {
		return err
	}
	log.Printf("navigating to %s (%s)", place.DisplayName, place.Coordinate)
	return nil
}

// NavigateToCoords starts navigating to an explicit coordinate.
func (s *Service) NavigateToCoords(ctx context.Context, c geo.Coordinate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tracker.SetDestination(c, "")
	return s.channel.SendDestinationCoords(c)
}

// ReportLocation records a fix locally and forwards it to the server.
func (s *Service) ReportLocation(ctx context.Context, c geo.Coordinate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tracker.UpdateLocation(c)
	return s.channel.SendLocation(c)
}

// StopNavigation ends the drive locally and tells the server.
func (s *Service) StopNavigation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tracker.Clear()
	return s.channel.SendCommand(channel.CommandStopNavigation)
}

// Reroute asks the server to recompute the active route.
func (s *Service) Reroute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.channel.SendCommand(channel.CommandReroute)
}

// WhereAmI reverse geocodes the last known position.
func (s *Service) WhereAmI(ctx context.Context) (geocoding.Place, error) {
	if s.geocoder == nil {
		return geocoding.Place{}, errors.New("service: no geocoder configured")
	}
	snap := s.tracker.Snapshot()
	if !snap.HasFix {
		return geocoding.Place{}, errors.New("service: no position fix yet")
	}
	return s.geocoder.Reverse(ctx, snap.Current)
}

// Status reports the connection, drive, and view state.
func (s *Service) Status() Status {
	return Status{
		Connection: s.channel.State(),
		Drive:      s.tracker.Snapshot(),
		View:       s.view.State(),
	}
}

// Close tears the service down exactly once: the GPS pump stops and the
// channel closes. Safe to call concurrently.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.closeErr = s.channel.Close()
	})
	return s.closeErr
}
