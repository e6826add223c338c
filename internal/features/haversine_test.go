package features

import (
	"math"
	"testing"
)

func TestHaversineIdenticalPoints(t *testing.T) {
	if d := Haversine(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Errorf("expected 0 distance for identical points, got %f", d)
	}
}

func TestHaversineOneDegreeLongitudeAtEquator(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	// One degree of longitude at the equator is about 111.19 km.
	if math.Abs(d-111.19) > 0.1 {
		t.Errorf("expected ~111.19 km, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Berlin to Paris, roughly 878 km.
	d := Haversine(52.5200, 13.4050, 48.8566, 2.3522)
	if d < 870 || d > 890 {
		t.Errorf("Berlin-Paris distance out of range: %f", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Haversine(10, 20, 30, 40)
	b := Haversine(30, 40, 10, 20)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", a, b)
	}
}
