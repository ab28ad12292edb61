// Package pattern implements the interaction pattern store: observations are
// matched against previously learned patterns of the same type and either
// strengthen the closest one or create a new pattern.
package pattern

import (
	"context"
	"io"
	"time"

	"github.com/supplement-advisor-server/internal/domain"
)

// Repository persists learned patterns.
type Repository interface {
	// Save inserts or replaces the pattern with the same id.
	Save(ctx context.Context, p *domain.Pattern) error

	// Get returns the pattern with the given id, or nil when it does not exist.
	Get(ctx context.Context, id string) (*domain.Pattern, error)

	// List returns patterns ordered by type then id.
	List(ctx context.Context, limit, offset int) ([]*domain.Pattern, error)

	// Count returns the number of stored patterns.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every pattern to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and stores patterns whose id is not yet known.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close releases the underlying connection.
	Close() error
}

// Export is the JSON export format shared by every repository.
type Export struct {
	Version    string            `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Count      int               `json:"count"`
	Patterns   []*domain.Pattern `json:"patterns"`
}

// Stats summarizes the in-memory pattern population.
type Stats struct {
	Total             int                        `json:"total"`
	ByType            map[domain.PatternType]int `json:"by_type"`
	AverageConfidence float64                    `json:"average_confidence"`
	FeedbackEntries   int                        `json:"feedback_entries"`
}

const exportVersion = "1.0"

// maxExportLimit bounds a single export.
const maxExportLimit = 1000000
