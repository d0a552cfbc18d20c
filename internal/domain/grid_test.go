package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToGrid_BoundaryRoundsUp(t *testing.T) {
	assert.Equal(t, Coordinate{Lat: 0, Lon: 0}, RoundToGrid(Coordinate{Lat: -0.00025, Lon: 0}))
	assert.Equal(t, Coordinate{Lat: 0.0005, Lon: 0}, RoundToGrid(Coordinate{Lat: 0.00025, Lon: 0}))
}

func TestRoundToGrid_DecimalBoundaries(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{33.00075, 33.001},
		{-95.55525, -95.555},
		{179.99975, 180},
		{-179.99875, -179.9985},
		{-179.99975, -179.9995},
		{89.99925, 89.9995},
		{-0.00075, -0.0005},
	}

	for _, tc := range cases {
		got := RoundToGrid(Coordinate{Lat: tc.in, Lon: tc.in})
		assert.Equal(t, Coordinate{Lat: tc.want, Lon: tc.want}, got, "round(%v)", tc.in)
	}
}

func TestRoundToGrid_EveryBoundaryRoundsUp(t *testing.T) {
	// Boundary (2k+1)*0.00025 sits between the centers k*0.0005 and (k+1)*0.0005.
	for k := int64(-360000); k < 360000; k++ {
		in := float64((2*k+1)*25) / 100000
		want := float64((k+1)*5) / 10000
		if got := roundAxis(in); got != want {
			t.Fatalf("roundAxis(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRoundToGrid_HugeInputIsClamped(t *testing.T) {
	got := RoundToGrid(Coordinate{Lat: math.MaxFloat64, Lon: -math.MaxFloat64})
	assert.Equal(t, Coordinate{Lat: maxAxis, Lon: -maxAxis}, got)
}

func TestRoundToGrid_NearestCenter(t *testing.T) {
	cases := []struct {
		name string
		in   Coordinate
		want Coordinate
	}{
		{"origin", Coordinate{0, 0}, Coordinate{0, 0}},
		{"below half step", Coordinate{0.0001, 0.0002}, Coordinate{0, 0}},
		{"above half step", Coordinate{0.0003, 0.0004}, Coordinate{0.0005, 0.0005}},
		{"negative", Coordinate{-0.0003, -0.0007}, Coordinate{-0.0005, -0.0005}},
		{"negative below half step", Coordinate{-0.0002, -0.0001}, Coordinate{0, 0}},
		{"real location", Coordinate{33.87712, -95.32527}, Coordinate{33.877, -95.3255}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RoundToGrid(tc.in)
			assert.InDelta(t, tc.want.Lat, got.Lat, 1e-12)
			assert.InDelta(t, tc.want.Lon, got.Lon, 1e-12)
		})
	}
}

func TestRoundToGrid_NoNegativeZero(t *testing.T) {
	got := RoundToGrid(Coordinate{Lat: -0.0001, Lon: -0.00025})
	// Cells are map keys; -0 and +0 compare equal but format differently.
	assert.Equal(t, "0.0000,0.0000", got.String())
}

func TestRoundToGrid_Idempotent(t *testing.T) {
	inputs := []Coordinate{
		{0.00025, -0.00025},
		{12.34567, -76.54321},
		{-89.99987, 179.99976},
		{51.50735, -0.12776},
		{-33.86882, 151.20930},
	}
	for lat := -1.0; lat <= 1.0; lat += 0.00013 {
		inputs = append(inputs, Coordinate{Lat: lat, Lon: -lat * 3})
	}

	for _, c := range inputs {
		once := RoundToGrid(c)
		assert.Equal(t, once, RoundToGrid(once), "round(round(%v)) != round(%v)", c, c)
	}
}

func TestRoundToGrid_ScenarioSameCell(t *testing.T) {
	a := RoundToGrid(Coordinate{Lat: 0.0001, Lon: 0.0001})
	b := RoundToGrid(Coordinate{Lat: 0.0002, Lon: 0.0002})
	assert.Equal(t, Coordinate{}, a)
	assert.Equal(t, a, b)
}
