package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/wonpark/navlink/geo"
)

// NMEA field values the parser library leaves as raw strings.
const (
	fixInvalid = "0"
	rmcValid   = "A"
)

// Feed turns a stream of NMEA sentences into position fixes. Sentences
// other than GGA and RMC, sentences without a fix, and the null island
// coordinate a cold receiver reports are all dropped.
type Feed struct {
	source    io.Reader
	interval  time.Duration
	positions chan geo.Coordinate
	bad       atomic.Int64
}

// NewFeed reads NMEA sentences from source. When interval is positive, at
// most one position per interval is emitted; receivers typically chatter
// once a second, far more often than the map needs.
func NewFeed(source io.Reader, interval time.Duration) *Feed {
	return &Feed{
		source:    source,
		interval:  interval,
		positions: make(chan geo.Coordinate, 8),
	}
}

// Positions is the stream of fixes. It is closed when Run returns.
func (f *Feed) Positions() <-chan geo.Coordinate {
	return f.positions
}

// BadSentences reports how many lines failed to parse so far.
func (f *Feed) BadSentences() int {
	return int(f.bad.Load())
}

// Run consumes the source until EOF or cancellation. It returns nil on a
// clean EOF, which is how file-backed replays end.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.positions)

	scanner := bufio.NewScanner(f.source)
	var lastEmit time.Time

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		coord, ok := f.parseLine(line)
		if !ok {
			continue
		}
		if f.interval > 0 && !lastEmit.IsZero() && time.Since(lastEmit) < f.interval {
			continue
		}

		select {
		case f.positions <- coord:
			lastEmit = time.Now()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read gps stream: %w", err)
	}
	return nil
}

func (f *Feed) parseLine(line string) (geo.Coordinate, bool) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		f.bad.Add(1)
		return geo.Coordinate{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == fixInvalid {
			return geo.Coordinate{}, false
		}
		return validCoord(s.Latitude, s.Longitude)
	case nmea.RMC:
		if s.Validity != rmcValid {
			return geo.Coordinate{}, false
		}
		return validCoord(s.Latitude, s.Longitude)
	}
	return geo.Coordinate{}, false
}

func validCoord(lat, lon float64) (geo.Coordinate, bool) {
	coord := geo.Coordinate{Lat: lat, Lon: lon}
	if coord.IsZero() {
		return geo.Coordinate{}, false
	}
	return coord, true
}

// OpenPort opens a serial GPS device for reading.
func OpenPort(device string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open gps port %s: %w", device, err)
	}
	return port, nil
}
