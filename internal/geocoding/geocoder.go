// Package geocoding resolves Korean property addresses to coordinates so
// that location features can be computed for properties stored without
// them.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

var ErrNoResult = errors.New("no geocoding result")

const cacheFileName = "geocode_cache.json"

type Config struct {
	BaseURL  string
	CacheDir string // empty disables the file cache
	Delay    time.Duration
}

// Geocoder queries a Nominatim compatible search endpoint. Results,
// including misses, are cached in memory and persisted to CacheDir.
type Geocoder struct {
	config    Config
	logger    *logrus.Logger
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client
	lastCall  time.Time
	callLock  sync.Mutex
}

func NewGeocoder(cfg Config, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &Geocoder{
		config: cfg,
		logger: logger,
		cache:  make(map[string][]float64),
		client: &http.Client{Timeout: 10 * time.Second},
	}

	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(filepath.Join(g.config.CacheDir, cacheFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}
	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

// SaveCache writes the cache to disk
func (g *Geocoder) SaveCache() error {
	if g.config.CacheDir == "" {
		return nil
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}

	if err := os.WriteFile(filepath.Join(g.config.CacheDir, cacheFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to save geocode cache: %w", err)
	}
	return nil
}

// Address joins the non-empty address parts of a property
func Address(p *models.Property) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{p.Province, p.District, p.SubDistrict, p.BuildingName} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the latitude and longitude of an address. A cached miss
// returns ErrNoResult without calling upstream.
func (g *Geocoder) Geocode(ctx context.Context, address string) (float64, float64, error) {
	g.cacheLock.RLock()
	coords, ok := g.cache[address]
	g.cacheLock.RUnlock()
	if ok {
		if len(coords) != 2 {
			return 0, 0, ErrNoResult
		}
		return coords[0], coords[1], nil
	}

	if err := g.wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"q":            []string{address},
		"format":       []string{"json"},
		"limit":        []string{"1"},
		"countrycodes": []string{"kr"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "chamgab-price-estimator/1.0")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.5")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result) == 0 {
		g.store(address, nil)
		return 0, 0, ErrNoResult
	}

	lat, errLat := strconv.ParseFloat(result[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(result[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return 0, 0, fmt.Errorf("invalid coordinates %q, %q", result[0].Lat, result[0].Lon)
	}

	g.store(address, []float64{lat, lon})
	return lat, lon, nil
}

func (g *Geocoder) store(address string, coords []float64) {
	g.cacheLock.Lock()
	g.cache[address] = coords
	g.cacheLock.Unlock()
}

// wait spaces upstream requests by the configured delay
func (g *Geocoder) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.callLock.Lock()
	defer g.callLock.Unlock()

	if remaining := g.config.Delay - time.Since(g.lastCall); remaining > 0 && !g.lastCall.IsZero() {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastCall = time.Now()
	return nil
}

// LocationStore is the store side of a backfill
type LocationStore interface {
	PropertiesMissingLocation(ctx context.Context) ([]models.Property, error)
	SetPropertyLocation(ctx context.Context, id int64, lat, lon float64) error
}

// Backfill geocodes every property stored without coordinates. Addresses
// that cannot be resolved are skipped. It returns the number updated.
func (g *Geocoder) Backfill(ctx context.Context, store LocationStore) (int, error) {
	properties, err := store.PropertiesMissingLocation(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range properties {
		p := &properties[i]
		address := Address(p)
		logger := g.logger.WithFields(logrus.Fields{"property_id": p.ID, "address": address})

		lat, lon, err := g.Geocode(ctx, address)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return updated, err
		}
		if err != nil {
			logger.WithError(err).Warn("Could not geocode property")
			continue
		}

		if err := store.SetPropertyLocation(ctx, p.ID, lat, lon); err != nil {
			return updated, err
		}
		updated++
	}

	if err := g.SaveCache(); err != nil {
		g.logger.WithError(err).Error("Failed to persist geocode cache")
	}
	g.logger.WithFields(logrus.Fields{
		"candidates": len(properties),
		"updated":    updated,
	}).Info("Geocoded properties without coordinates")
	return updated, nil
}
