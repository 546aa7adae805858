package geo

import (
	"math"
	"testing"
)

func TestDistanceZero(t *testing.T) {
	c := Coordinate{Lat: 35.1336, Lon: 129.1030}
	if d := Distance(c, c); d != 0 {
		t.Errorf("Expected zero distance for identical points, got %f", d)
	}
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	a := Coordinate{Lat: 0, Lon: 0}
	b := Coordinate{Lat: 1, Lon: 0}

	// One degree of latitude is ~111.19km on a 6371km sphere.
	d := Distance(a, b)
	expected := 111194.9
	if math.Abs(d-expected) > 10 {
		t.Errorf("Expected ~%.1fm, got %.1fm", expected, d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Coordinate{Lat: 35.1336, Lon: 129.1030}
	b := Coordinate{Lat: 35.1796, Lon: 129.0756}

	d1 := Distance(a, b)
	d2 := Distance(b, a)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("Distance not symmetric: %f vs %f", d1, d2)
	}

	// Busan station to Seomyeon is ~5.7km.
	if d1 < 5000 || d1 > 6500 {
		t.Errorf("Expected ~5.7km between test points, got %.1fm", d1)
	}
}

func TestIsZero(t *testing.T) {
	if !(Coordinate{}).IsZero() {
		t.Error("Expected zero value to be zero")
	}
	if (Coordinate{Lat: 35.1336, Lon: 129.1030}).IsZero() {
		t.Error("Expected non-zero coordinate to not be zero")
	}
}

func TestString(t *testing.T) {
	c := Coordinate{Lat: 35.1336, Lon: 129.103}
	if got := c.String(); got != "35.13360,129.10300" {
		t.Errorf("Unexpected string form: %s", got)
	}
}
