// Package geocoding resolves addresses with Nominatim.
//
// The client enforces the public instance usage policy: at most one request
// per second, a mandatory User-Agent, and an LRU cache so repeated lookups
// never leave the process. Transient failures are retried with a doubling
// delay, honoring Retry-After on 429 responses.
package geocoding
