// Command navlink runs the in-car navigation client and its companion tools.
//
// It supports three modes:
//  1. "drive" (default) – run the client: update channel, map view, GPS feed, console guidance
//  2. "sim" – run the development guidance server (REST + WebSocket, optional ngrok tunnel)
//  3. "mcp" – expose the running client to LLM agents over stdio MCP
//
// A YAML config file (--config) provides endpoints and tuning; NAVLINK_*
// environment variables override it. A .env file is loaded first when
// present.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jpillora/backoff"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wonpark/navlink/geo/geocoding"
	"github.com/wonpark/navlink/geo/routing"
	"github.com/wonpark/navlink/gps"
	"github.com/wonpark/navlink/nav/config"
	"github.com/wonpark/navlink/nav/service"
	"github.com/wonpark/navlink/nav/track"
	"github.com/wonpark/navlink/nav/view"
	"github.com/wonpark/navlink/sim"
	"github.com/wonpark/navlink/transport/channel"
	"github.com/wonpark/navlink/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Navlink"
)

// routeTimeout bounds OSRM calls made by the simulator; viewRefresh is the
// auto-reload cadence of the rendered map page.
const (
	routeTimeout = 15 * time.Second
	viewRefresh  = 2 * time.Second
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: error loading .env file: %v", err)
		}
	}

	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "navlink",
		Usage:   "resilient in-car navigation client and tools",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML config file",
			},
			&cli.StringFlag{
				Name:  "server-url",
				Usage: "override the guidance server URL (ws:// or wss://)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log with file and line information",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "drive",
				Usage: "run the navigation client",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-gps",
						Usage: "run without a GPS receiver",
					},
				},
				Action: runDrive,
			},
			{
				Name:  "sim",
				Usage: "run the development guidance server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address (defaults to server.listen from the config)",
					},
					&cli.BoolFlag{
						Name:  "ngrok",
						Usage: "expose the server through an ngrok tunnel",
					},
					&cli.StringFlag{
						Name:  "ngrok-domain",
						Usage: "custom ngrok domain (optional)",
					},
				},
				Action: runSim,
			},
			{
				Name:   "mcp",
				Usage:  "expose the client to LLM agents over stdio MCP",
				Action: runMCP,
			},
		},
		DefaultCommand: "drive",
	}
}

// loadConfig reads the YAML config and applies the global flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if url := cmd.String("server-url"); url != "" {
		cfg.Server.URL = url
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cmd.Bool("debug") {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	return cfg, nil
}

// setupLogFile mirrors logs into a rotating file when one is configured.
func setupLogFile(cfg *config.Config) {
	if cfg.Log.File == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}))
}

func newGeocoder(cfg *config.Config) *geocoding.Client {
	return geocoding.NewClient(geocoding.Options{
		BaseURL:    cfg.Geocoding.NominatimURL,
		UserAgent:  cfg.Geocoding.UserAgent,
		Timeout:    cfg.Geocoding.Timeout(),
		MaxRetries: cfg.Geocoding.MaxRetries,
		CacheSize:  cfg.Geocoding.CacheSize,
		CacheTTL:   cfg.Geocoding.CacheTTL(),
	})
}

// initializeService wires the channel, map view, tracker, and geocoder into
// a navigation service. The returned cleanup closes the GPS port, if any.
func initializeService(cfg *config.Config, announcer service.Announcer, withGPS bool) (*service.Service, func(), error) {
	mgr := channel.NewManager(cfg.Server.URL,
		channel.WithBackoff(&backoff.Backoff{
			Min:    cfg.Channel.BackoffMin(),
			Max:    cfg.Channel.BackoffMax(),
			Jitter: true,
		}),
		channel.WithHandshakeTimeout(cfg.Channel.HandshakeTimeout()),
	)

	renderer := view.NewHTMLRenderer(cfg.Map.Output, viewRefresh)
	controller := view.NewController(renderer, cfg.Map.TileURL, cfg.Map.Attribution)
	if err := controller.Initialize("map", cfg.Map.CenterCoordinate(), cfg.Map.Zoom); err != nil {
		return nil, nil, fmt.Errorf("initialize map view: %w", err)
	}

	cleanup := func() {}
	var feed *gps.Feed
	if withGPS {
		port, err := gps.OpenPort(cfg.GPS.Port, cfg.GPS.Baud)
		if err != nil {
			log.Printf("GPS disabled: %v", err)
		} else {
			feed = gps.NewFeed(port, cfg.GPS.UpdateInterval())
			cleanup = func() { port.Close() }
		}
	}

	svc, err := service.New(service.Options{
		Channel:   mgr,
		View:      controller,
		Tracker:   track.New(cfg.Routing.RerouteThresholdM, cfg.Routing.ArrivalThresholdM),
		Geocoder:  newGeocoder(cfg),
		Announcer: announcer,
		Feed:      feed,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// runDrive starts the client and reads destinations from the console until
// the process is told to quit.
func runDrive(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogFile(cfg)

	svc, cleanup, err := initializeService(cfg, nil, !cmd.Bool("no-gps"))
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return err
	}
	defer svc.Close()

	log.Printf("%s v%s connecting to %s", AppName, Version, cfg.Server.URL)
	log.Printf("map view written to %s", cfg.Map.Output)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	fmt.Println("Enter a destination address. Commands: status, where, stop, quit.")
	for {
		select {
		case sig := <-stop:
			log.Printf("received %v, shutting down", sig)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
			case "quit", "exit":
				return nil
			case "stop":
				if err := svc.StopNavigation(runCtx); err != nil {
					log.Printf("stop navigation: %v", err)
				}
			case "where":
				place, err := svc.WhereAmI(runCtx)
				if err != nil {
					log.Printf("where am I: %v", err)
					continue
				}
				fmt.Printf("You are near %s\n", place.DisplayName)
			case "status":
				printStatus(svc.Status())
			default:
				if err := svc.NavigateTo(runCtx, line); err != nil {
					log.Printf("navigate to %q: %v", line, err)
				}
			}
		}
	}
}

func printStatus(status service.Status) {
	fmt.Printf("connection: %s\n", status.Connection)
	drive := status.Drive
	if drive.HasFix {
		fmt.Printf("position: %s\n", drive.Current)
	}
	if !drive.Navigating {
		fmt.Println("not navigating")
		return
	}
	name := drive.DestinationName
	if name == "" {
		name = drive.Destination.String()
	}
	fmt.Printf("navigating to: %s (%s left)\n", name, routing.FormatDistance(drive.RemainingM))
}

// runSim starts the development guidance server. If ngrok is enabled (via
// flag or environment), it also provisions a public tunnel.
func runSim(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogFile(cfg)

	addr := cmd.String("addr")
	if addr == "" {
		addr = cfg.Server.Listen
	}

	srv := sim.NewServer(sim.Options{
		Geocoder:          newGeocoder(cfg),
		Router:            routing.NewClient(cfg.Routing.OSRMURL, routeTimeout),
		RerouteThresholdM: cfg.Routing.RerouteThresholdM,
		ArrivalThresholdM: cfg.Routing.ArrivalThresholdM,
		Zoom:              cfg.Map.Zoom,
		FollowZoom:        cfg.Map.FollowZoom,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go srv.Run(runCtx)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("guidance server listening on %s", addr)
		log.Printf("REST API: http://%s/api", addr)
		log.Printf("WebSocket: ws://%s/ws", addr)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	ngrokShouldRun := cmd.Bool("ngrok")
	if !ngrokShouldRun {
		if enabled := os.Getenv("NGROK_ENABLED"); enabled == "true" || enabled == "1" {
			ngrokShouldRun = true
		}
	}
	if ngrokShouldRun {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveNgrok(runCtx, cmd.String("ngrok-domain"), srv)
		}()
	}

	sig := <-stop
	log.Printf("received signal: %v, shutting down", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("server stopped")
	return nil
}

// serveNgrok exposes the handler through a public ngrok tunnel.
func serveNgrok(ctx context.Context, domain string, handler http.Handler) {
	authToken := os.Getenv("NGROK_AUTHTOKEN")
	if authToken == "" {
		log.Println("WARNING: ngrok enabled but NGROK_AUTHTOKEN is not set")
		return
	}

	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}
	tunnel := ngrokConfig.HTTPEndpoint()
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Printf("using custom ngrok domain: %s", domain)
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Printf("start ngrok tunnel: %v", err)
		return
	}
	defer tun.Close()

	log.Printf("ngrok tunnel established: %s", tun.URL())
	log.Printf("  WebSocket (ngrok): %s/ws", strings.Replace(tun.URL(), "https", "wss", 1))

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed {
		log.Printf("ngrok server error: %v", err)
	}
	log.Println("ngrok tunnel closed")
}

// runMCP starts the client without a GPS feed and hands control to LLM
// agents over stdio.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	// Stdout belongs to the MCP transport; logs and guidance stay on
	// stderr.
	log.SetOutput(os.Stderr)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogFile(cfg)

	svc, cleanup, err := initializeService(cfg, service.LogAnnouncer{}, false)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return err
	}
	defer svc.Close()

	srv := mcp.NewServer(svc)
	log.Println("MCP stdio server ready")
	if err := server.ServeStdio(srv.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
