package address

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", -33.9249, 18.4241, -33.9249, 18.4241, 0, 1e-9},
		{"cape town to johannesburg", -33.9249, 18.4241, -26.2041, 28.0473, 1261.6, 1},
		{"one degree of latitude", 0, 0, 1, 0, 111.19, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineKm() = %.3f, want %.3f (+/- %.3f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestBandValid(t *testing.T) {
	for _, b := range []Band{BandHigh, BandMedium, BandLow, BandUnusable} {
		if !b.Valid() {
			t.Errorf("Band(%q).Valid() = false, want true", b)
		}
	}
	if Band("high").Valid() {
		t.Error(`Band("high").Valid() = true, want false`)
	}
}

func TestResultCoordinates(t *testing.T) {
	var nilResult *Result
	if _, _, ok := nilResult.Coordinates(); ok {
		t.Error("nil result should have no coordinates")
	}

	r := &Result{Fields: Fields{Latitude: Float(-26.2), Longitude: Float(28.0)}}
	lat, lon, ok := r.Coordinates()
	if !ok || lat != -26.2 || lon != 28.0 {
		t.Errorf("Coordinates() = (%v, %v, %v), want (-26.2, 28.0, true)", lat, lon, ok)
	}

	r.Fields.Longitude = nil
	if _, _, ok := r.Coordinates(); ok {
		t.Error("result with only latitude should report no coordinates")
	}
}

func TestStr(t *testing.T) {
	if Str("") != nil {
		t.Error(`Str("") should be nil`)
	}
	if got := Value(Str("Durban")); got != "Durban" {
		t.Errorf("Value(Str(Durban)) = %q, want Durban", got)
	}
	if got := Value(nil); got != "" {
		t.Errorf("Value(nil) = %q, want empty", got)
	}
}
