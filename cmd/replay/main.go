// Command replay drives a recorded trace against a guidance server. It
// connects like the real client, optionally sets a destination first, then
// sends the recorded positions at a fixed cadence while printing the
// guidance frames that come back. Useful for end-to-end testing without a
// vehicle.
//
// The input is one JSON object per line:
//
//	{"latitude": 35.1798, "longitude": 129.0750}
//
// Blank lines and lines starting with # are skipped. Without --input a
// built-in demo trace through Busan is replayed.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wonpark/navlink/geo"
	"github.com/wonpark/navlink/transport/channel"
)

var (
	serverURL   = flag.String("server", "ws://localhost:8765/ws", "guidance server URL")
	input       = flag.String("input", "", "JSONL trace file (defaults to the built-in demo trace)")
	interval    = flag.Duration("interval", 2*time.Second, "delay between position frames")
	destination = flag.String("destination", "", "destination address to set before replaying")
)

// tracePoint is one recorded fix.
type tracePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func main() {
	flag.Parse()

	points, err := loadTrace(*input)
	if err != nil {
		log.Fatalf("load trace: %v", err)
	}
	if len(points) == 0 {
		log.Fatal("trace has no points")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := replay(ctx, *serverURL, *destination, points, *interval); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// loadTrace reads a JSONL trace, or returns the demo trace when path is
// empty.
func loadTrace(path string) ([]geo.Coordinate, error) {
	if path == "" {
		return demoTrace(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTrace(f)
}

func parseTrace(r io.Reader) ([]geo.Coordinate, error) {
	var points []geo.Coordinate
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var p tracePoint
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		points = append(points, geo.Coordinate{Lat: p.Latitude, Lon: p.Longitude})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// demoTrace approaches Gwangalli Beach from central Busan.
func demoTrace() []geo.Coordinate {
	return []geo.Coordinate{
		{Lat: 35.1798, Lon: 129.0750},
		{Lat: 35.1750, Lon: 129.0810},
		{Lat: 35.1701, Lon: 129.0873},
		{Lat: 35.1655, Lon: 129.0934},
		{Lat: 35.1622, Lon: 129.1001},
		{Lat: 35.1590, Lon: 129.1066},
		{Lat: 35.1561, Lon: 129.1128},
		{Lat: 35.1532, Lon: 129.1187},
	}
}

func replay(ctx context.Context, serverURL, destination string, points []geo.Coordinate, interval time.Duration) error {
	mgr := channel.NewManager(serverURL)
	defer mgr.Close()

	mgr.OnKind(channel.KindVoiceGuidance, func(env channel.Envelope) {
		var p channel.MessagePayload
		if err := env.DecodePayload(&p); err == nil {
			fmt.Printf("guidance: %s\n", p.Message)
		}
	})
	mgr.OnKind(channel.KindNavigationEnd, func(env channel.Envelope) {
		var p channel.MessagePayload
		if err := env.DecodePayload(&p); err == nil && p.Message != "" {
			fmt.Printf("server: %s\n", p.Message)
			return
		}
		fmt.Println("server: navigation ended")
	})
	mgr.OnStateChange(func(state channel.State) {
		log.Printf("channel %s", state)
	})

	mgr.Connect()
	if err := waitOpen(ctx, mgr); err != nil {
		return err
	}

	if destination != "" {
		if err := mgr.SendDestinationAddress(destination); err != nil {
			return fmt.Errorf("set destination: %w", err)
		}
		log.Printf("destination set to %q", destination)
	}

	for i, p := range points {
		if err := mgr.SendLocation(p); err != nil {
			log.Printf("send fix %d: %v", i+1, err)
		} else {
			log.Printf("fix %d/%d: %s", i+1, len(points), p)
		}
		if i == len(points)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	// Let trailing guidance frames arrive before tearing down.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

// waitOpen blocks until the channel is open, the manager gives up, or the
// context ends.
func waitOpen(ctx context.Context, mgr *channel.Manager) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(30 * time.Second)
	for {
		switch mgr.State() {
		case channel.StateOpen:
			return nil
		case channel.StateFailed:
			return errors.New("channel failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.New("timed out waiting for the channel to open")
		case <-ticker.C:
		}
	}
}
