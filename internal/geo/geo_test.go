package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroAndSymmetry(t *testing.T) {
	a := Coordinate{Latitude: -15.793, Longitude: -47.882}
	b := Coordinate{Latitude: -15.780, Longitude: -47.930}

	if d := Distance(a, a); d != 0 {
		t.Errorf("Distance(a,a) = %f, want 0", d)
	}
	if ab, ba := Distance(a, b), Distance(b, a); ab != ba {
		t.Errorf("Distance not symmetric: %f vs %f", ab, ba)
	}
}

func TestDistanceOneDegreeLatitude(t *testing.T) {
	// One degree of latitude is about 111,195 m on the spherical model.
	a := Coordinate{Latitude: 0, Longitude: 0}
	b := Coordinate{Latitude: 1, Longitude: 0}

	d := Distance(a, b)
	want := 111195.0
	if math.Abs(d-want)/want > 0.005 {
		t.Errorf("one degree latitude = %f m, want %f ±0.5%%", d, want)
	}
}

func TestDistanceMonotonicWithSeparation(t *testing.T) {
	origin := Coordinate{Latitude: -15.793, Longitude: -47.882}

	prev := 0.0
	for _, dLat := range []float64{0.0001, 0.001, 0.01, 0.1} {
		d := Distance(origin, Coordinate{Latitude: origin.Latitude + dLat, Longitude: origin.Longitude})
		if d <= prev {
			t.Errorf("distance not monotonic: %f after %f (dLat=%f)", d, prev, dLat)
		}
		prev = d
	}
}

func TestCoordinateValid(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		want  bool
	}{
		{"typical highway point", Coordinate{-15.793, -47.882}, true},
		{"north pole", Coordinate{90, 0}, true},
		{"antimeridian", Coordinate{0, -180}, true},
		{"latitude too high", Coordinate{90.1, 0}, false},
		{"latitude too low", Coordinate{-91, 0}, false},
		{"longitude too high", Coordinate{0, 180.5}, false},
		{"longitude too low", Coordinate{0, -181}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coord.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
