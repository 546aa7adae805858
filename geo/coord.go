// Package geo holds the coordinate type and distance math shared by the
// channel payloads, the drive tracker, the routing client, and the simulator.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusM is the mean earth radius used for haversine distances.
const earthRadiusM = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// String renders the coordinate as "lat,lon" with ~1m precision.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// IsZero reports whether the coordinate is the zero value. A (0,0) fix sits
// in the Gulf of Guinea and is what cold GPS receivers emit before lock, so
// it is treated as unset everywhere in this codebase.
func (c Coordinate) IsZero() bool {
	return c.Lat == 0 && c.Lon == 0
}

// Distance returns the haversine distance from c to other in meters.
func (c Coordinate) Distance(other Coordinate) float64 {
	return Distance(c, other)
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
