// Package config loads and validates the navlink configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then NAVLINK_* environment variables. A missing file is not an error, so
// the tools run out of the box against a local simulator. Validation runs
// last and reports every violation in one error rather than stopping at the
// first.
//
// Time-valued settings are plain integers with the unit in the field name
// (backoffMinMs, timeoutSec). Accessor methods convert them to
// time.Duration for the rest of the program.
package config
