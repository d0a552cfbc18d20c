package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// RawReading is the flat JSON shape published by the device gateway.
type RawReading struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Timestamp string          `json:"timestamp"`
}

// ParseReading decodes one JSON reading. Latitude and longitude may be JSON
// numbers or numeric strings. The coordinate must be a valid WGS-84 position.
func ParseReading(data []byte) (Reading, error) {
	var raw RawReading
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reading{}, fmt.Errorf("parse reading: %w", err)
	}

	lat, err := parseDegrees(raw.Latitude)
	if err != nil {
		return Reading{}, fmt.Errorf("parse reading latitude: %w", err)
	}
	lon, err := parseDegrees(raw.Longitude)
	if err != nil {
		return Reading{}, fmt.Errorf("parse reading longitude: %w", err)
	}
	if !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return Reading{}, fmt.Errorf("parse reading: coordinate %.6f,%.6f out of range", lat, lon)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw.Timestamp))
	if err != nil {
		return Reading{}, fmt.Errorf("parse reading timestamp: %w", err)
	}

	return Reading{Coordinate: Coordinate{Lat: lat, Lon: lon}, Timestamp: ts}, nil
}

// EncodeReading is the inverse of ParseReading; coordinates are written as
// strings the way the gateway does.
func EncodeReading(r Reading) ([]byte, error) {
	return json.Marshal(map[string]string{
		"latitude":  strconv.FormatFloat(r.Coordinate.Lat, 'f', -1, 64),
		"longitude": strconv.FormatFloat(r.Coordinate.Lon, 'f', -1, 64),
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func parseDegrees(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("missing value")
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
