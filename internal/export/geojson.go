// Package export writes stored stations in exchange formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

// GeoJSON writes stations as a FeatureCollection of points. Stations without
// coordinates are skipped. Prices that were not reported are omitted.
func GeoJSON(w io.Writer, stations []models.StationPrice) (int, error) {
	fc := geojson.FeatureCollection{
		Features: make([]*geojson.Feature, 0, len(stations)),
	}

	for _, s := range stations {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}

		// GeoJSON positions are longitude first
		point := geom.NewPointFlat(geom.XY, []float64{*s.Longitude, *s.Latitude})

		props := map[string]any{
			"external_id": s.ExternalID,
			"name":        s.Name,
			"address":     s.Address,
			"observed_at": s.Latest.ObservedAt.UTC().Format(time.RFC3339),
		}
		if s.Latest.PriceDiesel != nil {
			props["price_diesel"] = *s.Latest.PriceDiesel
		}
		if s.Latest.PriceSuper != nil {
			props["price_super"] = *s.Latest.PriceSuper
		}
		if s.Latest.PriceSuperE10 != nil {
			props["price_super_e10"] = *s.Latest.PriceSuperE10
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.FormatInt(s.Key, 10),
			Geometry:   point,
			Properties: props,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return 0, fmt.Errorf("encoding GeoJSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return 0, fmt.Errorf("writing GeoJSON: %w", err)
	}

	return len(fc.Features), nil
}
