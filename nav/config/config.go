package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/wonpark/navlink/geo"
)

// Config is the full runtime configuration for both the client and the
// simulator. Duration-like values are plain integers with the unit in the
// field name so the YAML stays obvious.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Channel   ChannelConfig   `yaml:"channel"`
	Routing   RoutingConfig   `yaml:"routing"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
	GPS       GPSConfig       `yaml:"gps"`
	Map       MapConfig       `yaml:"map"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig names both ends of the channel: the URL the client dials and
// the address the simulator listens on.
type ServerConfig struct {
	URL    string `yaml:"url"`
	Listen string `yaml:"listen"`
}

// ChannelConfig tunes the reconnect schedule and handshake.
type ChannelConfig struct {
	BackoffMinMs        int `yaml:"backoffMinMs"`
	BackoffMaxSec       int `yaml:"backoffMaxSec"`
	HandshakeTimeoutSec int `yaml:"handshakeTimeoutSec"`
}

// BackoffMin returns the base reconnect delay.
func (c ChannelConfig) BackoffMin() time.Duration {
	return time.Duration(c.BackoffMinMs) * time.Millisecond
}

// BackoffMax returns the reconnect delay cap.
func (c ChannelConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSec) * time.Second
}

// HandshakeTimeout bounds the WebSocket handshake.
func (c ChannelConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSec) * time.Second
}

// RoutingConfig points at OSRM and sets the drive decision thresholds.
type RoutingConfig struct {
	OSRMURL           string  `yaml:"osrmUrl"`
	RerouteThresholdM float64 `yaml:"rerouteThresholdM"`
	ArrivalThresholdM float64 `yaml:"arrivalThresholdM"`
}

// GeocodingConfig tunes the Nominatim client.
type GeocodingConfig struct {
	NominatimURL string `yaml:"nominatimUrl"`
	UserAgent    string `yaml:"userAgent"`
	TimeoutSec   int    `yaml:"timeoutSec"`
	MaxRetries   int    `yaml:"maxRetries"`
	CacheSize    int    `yaml:"cacheSize"`
	CacheTTLSec  int    `yaml:"cacheTtlSec"`
}

// Timeout returns the per-request timeout.
func (c GeocodingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// CacheTTL returns how long geocoding results stay cached.
func (c GeocodingConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// GPSConfig names the receiver device and the position cadence.
type GPSConfig struct {
	Port              string `yaml:"port"`
	Baud              int    `yaml:"baud"`
	UpdateIntervalSec int    `yaml:"updateIntervalSec"`
}

// UpdateInterval returns the minimum time between emitted positions.
func (c GPSConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalSec) * time.Second
}

// MapConfig describes the initial viewport and the tile layer.
type MapConfig struct {
	Center      []float64 `yaml:"center"`
	Zoom        int       `yaml:"zoom"`
	FollowZoom  int       `yaml:"followZoom"`
	TileURL     string    `yaml:"tileUrl"`
	Attribution string    `yaml:"attribution"`
	Output      string    `yaml:"output"`
}

// CenterCoordinate returns the configured [lat, lon] center.
func (c MapConfig) CenterCoordinate() geo.Coordinate {
	if len(c.Center) != 2 {
		return geo.Coordinate{}
	}
	return geo.Coordinate{Lat: c.Center[0], Lon: c.Center[1]}
}

// LogConfig controls the optional rotating log file. An empty File logs to
// stdout only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Default returns the built-in configuration: a local simulator, the public
// OSM services, and the Busan city center viewport.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:    "ws://localhost:8765/ws",
			Listen: ":8765",
		},
		Channel: ChannelConfig{
			BackoffMinMs:        500,
			BackoffMaxSec:       30,
			HandshakeTimeoutSec: 10,
		},
		Routing: RoutingConfig{
			OSRMURL:           "http://localhost:5000",
			RerouteThresholdM: 10,
			ArrivalThresholdM: 20,
		},
		Geocoding: GeocodingConfig{
			NominatimURL: "https://nominatim.openstreetmap.org",
			UserAgent:    "navlink/1.0",
			TimeoutSec:   10,
			MaxRetries:   3,
			CacheSize:    100,
			CacheTTLSec:  300,
		},
		GPS: GPSConfig{
			Port:              "/dev/ttyAMA0",
			Baud:              9600,
			UpdateIntervalSec: 5,
		},
		Map: MapConfig{
			Center:      []float64{35.1336, 129.1030},
			Zoom:        15,
			FollowZoom:  14,
			TileURL:     "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Attribution: "© OpenStreetMap contributors",
			Output:      "map.html",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration in three layers: defaults, then the YAML
// file (a missing file is fine), then NAVLINK_* environment overrides. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults stand alone.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers NAVLINK_* variables over the file values. Unparsable
// numeric values are ignored; validation still guards the final result.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NAVLINK_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("NAVLINK_SERVER_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("NAVLINK_OSRM_URL"); v != "" {
		cfg.Routing.OSRMURL = v
	}
	if v := os.Getenv("NAVLINK_NOMINATIM_URL"); v != "" {
		cfg.Geocoding.NominatimURL = v
	}
	if v := os.Getenv("NAVLINK_USER_AGENT"); v != "" {
		cfg.Geocoding.UserAgent = v
	}
	if v := os.Getenv("NAVLINK_GPS_PORT"); v != "" {
		cfg.GPS.Port = v
	}
	if v := os.Getenv("NAVLINK_GPS_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.GPS.Baud = baud
		}
	}
	if v := os.Getenv("NAVLINK_MAP_OUTPUT"); v != "" {
		cfg.Map.Output = v
	}
	if v := os.Getenv("NAVLINK_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// Validate checks the whole configuration and reports every violation at
// once.
func (c *Config) Validate() error {
	var problems []string

	if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		problems = append(problems, fmt.Sprintf("server.url must be a ws:// or wss:// URL, got %q", c.Server.URL))
	}
	if c.Server.Listen == "" {
		problems = append(problems, "server.listen must not be empty")
	}

	if c.Channel.BackoffMinMs <= 0 {
		problems = append(problems, "channel.backoffMinMs must be positive")
	}
	if c.Channel.BackoffMax() < c.Channel.BackoffMin() {
		problems = append(problems, "channel.backoffMaxSec must be at least the base delay")
	}
	if c.Channel.HandshakeTimeoutSec <= 0 {
		problems = append(problems, "channel.handshakeTimeoutSec must be positive")
	}

	if u, err := url.Parse(c.Routing.OSRMURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("routing.osrmUrl must be an http(s) URL, got %q", c.Routing.OSRMURL))
	}
	if c.Routing.RerouteThresholdM <= 0 {
		problems = append(problems, "routing.rerouteThresholdM must be positive")
	}
	if c.Routing.ArrivalThresholdM <= 0 {
		problems = append(problems, "routing.arrivalThresholdM must be positive")
	}

	if u, err := url.Parse(c.Geocoding.NominatimURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("geocoding.nominatimUrl must be an http(s) URL, got %q", c.Geocoding.NominatimURL))
	}
	if c.Geocoding.UserAgent == "" {
		problems = append(problems, "geocoding.userAgent must not be empty")
	}
	if c.Geocoding.TimeoutSec <= 0 {
		problems = append(problems, "geocoding.timeoutSec must be positive")
	}
	if c.Geocoding.MaxRetries < 0 {
		problems = append(problems, "geocoding.maxRetries must not be negative")
	}
	if c.Geocoding.CacheSize <= 0 {
		problems = append(problems, "geocoding.cacheSize must be positive")
	}
	if c.Geocoding.CacheTTLSec <= 0 {
		problems = append(problems, "geocoding.cacheTtlSec must be positive")
	}

	if c.GPS.Port == "" {
		problems = append(problems, "gps.port must not be empty")
	}
	if c.GPS.Baud <= 0 {
		problems = append(problems, "gps.baud must be positive")
	}
	if c.GPS.UpdateIntervalSec <= 0 {
		problems = append(problems, "gps.updateIntervalSec must be positive")
	}

	if len(c.Map.Center) != 2 {
		problems = append(problems, "map.center must be [lat, lon]")
	} else {
		if c.Map.Center[0] < -90 || c.Map.Center[0] > 90 {
			problems = append(problems, fmt.Sprintf("map.center latitude %.4f out of range", c.Map.Center[0]))
		}
		if c.Map.Center[1] < -180 || c.Map.Center[1] > 180 {
			problems = append(problems, fmt.Sprintf("map.center longitude %.4f out of range", c.Map.Center[1]))
		}
	}
	if c.Map.Zoom < 1 || c.Map.Zoom > 19 {
		problems = append(problems, fmt.Sprintf("map.zoom %d out of range 1..19", c.Map.Zoom))
	}
	if c.Map.FollowZoom < 1 || c.Map.FollowZoom > 19 {
		problems = append(problems, fmt.Sprintf("map.followZoom %d out of range 1..19", c.Map.FollowZoom))
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(c.Map.TileURL, ph) {
			problems = append(problems, fmt.Sprintf("map.tileUrl missing %s placeholder", ph))
		}
	}
	if c.Map.Output == "" {
		problems = append(problems, "map.output must not be empty")
	}

	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		problems = append(problems, "log.maxSizeMb must be positive when log.file is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
