// Package enrichment supplies the location and market features of a row:
// distances to and counts of nearby points of interest, monthly market
// indicators and district footfall. Every provider has documented defaults
// and a failing provider degrades to them instead of failing the caller.
package enrichment

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// ErrNoData means the source has nothing for the request. It resolves to
// the defaults but does not count against the circuit breaker.
var ErrNoData = errors.New("no enrichment data")

// Request identifies what a provider is asked about
type Request struct {
	Province string
	District string
	Location *models.Location
	At       time.Time
}

// Provider is one enrichment source
type Provider interface {
	Name() string
	Features(ctx context.Context, req Request) (features.Row, error)
	// Defaults is returned whenever the source fails or has no data
	Defaults() features.Row
}

func missing(names ...string) features.Row {
	row := make(features.Row, len(names))
	for _, name := range names {
		row[name] = math.NaN()
	}
	return row
}
