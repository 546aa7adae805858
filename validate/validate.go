// Command validate lints navlink YAML configuration files. It checks:
//   - YAML structure against the configuration schema
//   - URL schemes (ws/wss for the channel, http/https for routing and geocoding)
//   - Positive timeouts, retry counts, cache sizing, and GPS settings
//   - Map center range, zoom bounds, and tile template placeholders
//
// Files are given as arguments; with none it validates ./config.yaml.
// Exits non-zero if any file is invalid.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wonpark/navlink/nav/config"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Notes contains informational summary lines; otherwise
// it accumulates the problems that were found.
type ValidationResult struct {
	File  string
	Valid bool
	Notes []string
}

// validateFile loads and validates a single configuration file.
func validateFile(path string) ValidationResult {
	result := ValidationResult{
		File:  filepath.Base(path),
		Valid: true,
		Notes: []string{},
	}

	// Load treats a missing file as "use defaults", which is right for
	// the client but wrong for a linter.
	if _, err := os.Stat(path); err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	cfg, err := config.Load(path)
	if err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, splitProblems(err)...)
		return result
	}

	result.Notes = append(result.Notes,
		fmt.Sprintf("✓ Server: %s (listen %s)", cfg.Server.URL, cfg.Server.Listen),
		fmt.Sprintf("✓ Reconnect backoff: %s to %s", cfg.Channel.BackoffMin(), cfg.Channel.BackoffMax()),
		fmt.Sprintf("✓ Routing: %s (reroute %gm, arrival %gm)", cfg.Routing.OSRMURL, cfg.Routing.RerouteThresholdM, cfg.Routing.ArrivalThresholdM),
		fmt.Sprintf("✓ Geocoding: %s as %q", cfg.Geocoding.NominatimURL, cfg.Geocoding.UserAgent),
		fmt.Sprintf("✓ GPS: %s at %d baud", cfg.GPS.Port, cfg.GPS.Baud),
		fmt.Sprintf("✓ Map: center %s, zoom %d, output %s", cfg.Map.CenterCoordinate(), cfg.Map.Zoom, cfg.Map.Output),
	)
	return result
}

// splitProblems flattens the multi-line validation error into one note per
// problem.
func splitProblems(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	if len(lines) == 1 {
		return lines
	}
	problems := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		problems = append(problems, strings.TrimPrefix(strings.TrimSpace(line), "- "))
	}
	return problems
}

// main validates each file argument, printing a concise report and exiting
// with non-zero status if any are invalid.
func main() {
	paths := os.Args[1:]
	if len(paths) == 0 {
		paths = []string{"config.yaml"}
	}

	allValid := true
	for _, path := range paths {
		result := validateFile(path)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, note := range result.Notes {
				fmt.Println("  " + note)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, note := range result.Notes {
				fmt.Println("  ❌ " + note)
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All configurations are valid!")
	} else {
		fmt.Println("❌ Some configurations have errors")
		os.Exit(1)
	}
}
