package main

import (
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/sensor-heatmap-etl/internal/domain"
)

// hotspot is a cluster center; spread is the standard deviation in degrees.
type hotspot struct {
	center domain.Coordinate
	spread float64
	weight float64
}

// Dense urban areas in north Texas, so cells see repeat hits across days.
var defaultHotspots = []hotspot{
	{center: domain.Coordinate{Lat: 33.6609, Lon: -95.5555}, spread: 0.002, weight: 3},
	{center: domain.Coordinate{Lat: 32.7767, Lon: -96.7970}, spread: 0.004, weight: 5},
	{center: domain.Coordinate{Lat: 32.7555, Lon: -97.3308}, spread: 0.003, weight: 2},
}

type generatorConfig struct {
	count    int
	days     int
	start    time.Time
	seed     uint64
	hotspots []hotspot
}

// generate draws readings uniformly over [start, start+days) with positions
// normally distributed around weighted hotspots.
func generate(cfg generatorConfig) []domain.Reading {
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))

	var totalWeight float64
	for _, h := range cfg.hotspots {
		totalWeight += h.weight
	}

	span := int64(cfg.days) * int64(24*time.Hour)
	readings := make([]domain.Reading, cfg.count)
	for i := range readings {
		h := pick(rng, cfg.hotspots, totalWeight)
		readings[i] = domain.Reading{
			Coordinate: domain.Coordinate{
				Lat: h.center.Lat + rng.NormFloat64()*h.spread,
				Lon: h.center.Lon + rng.NormFloat64()*h.spread,
			},
			Timestamp: cfg.start.Add(time.Duration(rng.Int64N(span))).Truncate(time.Millisecond),
		}
	}
	return readings
}

func pick(rng *rand.Rand, hotspots []hotspot, totalWeight float64) hotspot {
	x := rng.Float64() * totalWeight
	for _, h := range hotspots {
		if x < h.weight {
			return h
		}
		x -= h.weight
	}
	return hotspots[len(hotspots)-1]
}
