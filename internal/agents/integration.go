package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// IntegrationReport is the data_integration output.
type IntegrationReport struct {
	SourcesFetched  int       `json:"sources_fetched"`
	SourcesTotal    int       `json:"sources_total"`
	DataGaps        []string  `json:"data_gaps"`
	DataQuality     string    `json:"data_quality"`
	FetchedAt       time.Time `json:"fetched_at"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

func analyzeIntegration(_ context.Context, snap *snapshot.Snapshot, _ string) (any, error) {
	r := IntegrationReport{
		SourcesFetched: snap.Available(),
		SourcesTotal:   len(snap.Names()),
		DataGaps:       append([]string{}, snap.DataGaps()...),
		FetchedAt:      snap.FetchedAt(),
	}
	switch {
	case len(r.DataGaps) == 0:
		r.DataQuality = "good"
	case r.SourcesFetched*2 >= r.SourcesTotal:
		r.DataQuality = "warning"
	default:
		r.DataQuality = "error"
	}
	for _, gap := range r.DataGaps {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf("Reconnect %s for a complete picture", gap))
	}
	return r, nil
}
