package domain

import (
	"context"
	"log/slog"
)

// LabelRecords fills PlaceName for each record from its cell center.
// A nil geocoder leaves records untouched. Lookup failures are logged and the
// record keeps an empty PlaceName; labeling never fails a window.
func LabelRecords(ctx context.Context, records []HeatMapRecord, geocoder Geocoder, logger *slog.Logger) []HeatMapRecord {
	if geocoder == nil {
		return records
	}

	for i := range records {
		if ctx.Err() != nil {
			return records
		}
		result, err := geocoder.ReverseGeocode(ctx, records[i].Latitude, records[i].Longitude)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"lat", records[i].Latitude,
				"lon", records[i].Longitude,
				"error", err,
			)
			continue
		}
		records[i].PlaceName = result.PlaceName
	}
	return records
}
