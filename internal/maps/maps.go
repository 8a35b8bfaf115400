// Package maps finds the nearest collection points for a coordinate and
// builds shareable map links. Collection point data comes from the
// persistence gateway; only link generation talks to the maps provider.
package maps

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/models"
	"github.com/ecobot-id/ecobot/internal/storage"
)

// Locator resolves nearby collection points for a coordinate.
type Locator interface {
	Nearest(ctx context.Context, lat, lng float64, category string, limit int) ([]*models.CollectionPoint, error)
	DirectionsURL(fromLat, fromLng float64, point *models.CollectionPoint) string
}

type Service struct {
	storage storage.Storage
	client  *resty.Client
	apiKey  string
	logger  *zap.Logger
}

func NewService(store storage.Storage, apiKey string, logger *zap.Logger) *Service {
	return &Service{
		storage: store,
		client:  resty.New().SetTimeout(10 * time.Second),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Nearest returns up to limit active collection points ordered by
// distance from (lat, lng), optionally filtered by accepted category.
func (s *Service) Nearest(ctx context.Context, lat, lng float64, category string, limit int) ([]*models.CollectionPoint, error) {
	points, err := s.storage.CollectionPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection points: %w", err)
	}

	if category != "" {
		filtered := points[:0]
		for _, p := range points {
			if accepts(p, category) {
				filtered = append(filtered, p)
			}
		}
		points = filtered
	}

	sort.Slice(points, func(i, j int) bool {
		return haversine(lat, lng, points[i].Latitude, points[i].Longitude) <
			haversine(lat, lng, points[j].Latitude, points[j].Longitude)
	})

	if len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

// DirectionsURL builds a Google Maps directions link from the user's
// position to the point.
func (s *Service) DirectionsURL(fromLat, fromLng float64, point *models.CollectionPoint) string {
	return fmt.Sprintf(
		"https://www.google.com/maps/dir/?api=1&origin=%.6f,%.6f&destination=%.6f,%.6f",
		fromLat, fromLng, point.Latitude, point.Longitude)
}

// StaticMapURL renders the points on a static map image. Falls back to a
// plain maps link when no API key is configured.
func (s *Service) StaticMapURL(points []*models.CollectionPoint) string {
	if len(points) == 0 {
		return ""
	}
	if s.apiKey == "" {
		return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%.6f,%.6f",
			points[0].Latitude, points[0].Longitude)
	}

	url := "https://maps.googleapis.com/maps/api/staticmap?size=600x400"
	for _, p := range points {
		url += fmt.Sprintf("&markers=%.6f,%.6f", p.Latitude, p.Longitude)
	}
	return url + "&key=" + s.apiKey
}

// Geocode resolves a free-form address to coordinates. Best effort:
// returns ok=false when no API key is configured or nothing matched.
func (s *Service) Geocode(ctx context.Context, address string) (lat, lng float64, ok bool) {
	if s.apiKey == "" || address == "" {
		return 0, 0, false
	}

	var result struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"address": address,
			"key":     s.apiKey,
		}).
		SetResult(&result).
		Get("https://maps.googleapis.com/maps/api/geocode/json")
	if err != nil || resp.IsError() {
		s.logger.Warn("Geocoding request failed",
			zap.Error(err), zap.String("address", address))
		return 0, 0, false
	}
	if result.Status != "OK" || len(result.Results) == 0 {
		return 0, 0, false
	}

	loc := result.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, true
}

func accepts(p *models.CollectionPoint, category string) bool {
	for _, t := range p.AcceptedTypes {
		if t == category {
			return true
		}
	}
	return false
}

const earthRadiusKM = 6371.0

// haversine returns the great-circle distance between two coordinates in
// kilometers.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
