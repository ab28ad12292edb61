package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// SeedDocument is one entry of an evidence seed file.
type SeedDocument struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id,omitempty"`
	Document   string            `json:"document"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DocumentAdder accepts evidence documents.
type DocumentAdder interface {
	Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error
}

// LoadSeedFile reads a JSON array of seed documents.
func LoadSeedFile(path string) ([]SeedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var docs []SeedDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i, d := range docs {
		if d.Collection == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("[%d].collection", i), "must not be empty", d.Collection)
		}
		if d.Document == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("[%d].document", i), "must not be empty", d.Document)
		}
	}
	return docs, nil
}

// Seed adds every document from path to target and returns how many were added.
// Seeding stops at the first failure.
func Seed(ctx context.Context, target DocumentAdder, path string, logger *logrus.Logger) (int, error) {
	docs, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}

	for i, d := range docs {
		if err := target.Add(ctx, d.Collection, d.Document, d.Metadata, d.ID); err != nil {
			return i, fmt.Errorf("seeding document %d: %w", i, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"path":      path,
		"documents": len(docs),
	}).Info("Seeded evidence store")
	return len(docs), nil
}
