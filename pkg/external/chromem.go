package external

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// ChromemEvidenceStore is an EvidenceStore backed by an embedded chromem-go
// vector database. Relevance is chromem's cosine similarity.
type ChromemEvidenceStore struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger *logrus.Logger
}

var _ domain.EvidenceStore = (*ChromemEvidenceStore)(nil)

// OpenChromemDB opens a persistent database at path, or an in-memory one when
// path is empty.
func OpenChromemDB(path string, compress bool) (*chromem.DB, error) {
	if path == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem database at %s: %w", path, err)
	}
	return db, nil
}

// NewChromemEvidenceStore creates an evidence store. embed turns document and
// query text into vectors.
func NewChromemEvidenceStore(db *chromem.DB, embed chromem.EmbeddingFunc, logger *logrus.Logger) *ChromemEvidenceStore {
	return &ChromemEvidenceStore{db: db, embed: embed, logger: logger}
}

// OracleEmbeddingFunc adapts a TextOracle's Embed method to chromem.
func OracleEmbeddingFunc(oracle domain.TextOracle) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return oracle.Embed(ctx, text)
	}
}

// Search returns up to k documents ordered by descending similarity. Unknown
// or empty collections yield empty hits.
func (s *ChromemEvidenceStore) Search(ctx context.Context, query, collection string, k int) (*domain.SearchHits, error) {
	hits := &domain.SearchHits{
		IDs:       []string{},
		Documents: []string{},
		Metadatas: []map[string]string{},
		Distances: []float64{},
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	c := s.db.GetCollection(collection, s.embed)
	if c == nil {
		return hits, nil
	}
	// chromem rejects nResults above the document count.
	count := c.Count()
	if count == 0 {
		return hits, nil
	}
	if k > count {
		k = count
	}

	results, err := c.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	for _, r := range results {
		hits.IDs = append(hits.IDs, r.ID)
		hits.Documents = append(hits.Documents, r.Content)
		hits.Metadatas = append(hits.Metadatas, r.Metadata)
		hits.Distances = append(hits.Distances, float64(r.Similarity))
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"k":          k,
		"results":    len(results),
	}).Debug("Searched chromem collection")
	return hits, nil
}

// Add embeds and stores a document, creating the collection on first use. An
// empty id is replaced by a random one.
func (s *ChromemEvidenceStore) Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error {
	if document == "" {
		return domain.NewValidationError("document", "must not be empty", document)
	}
	if id == "" {
		id = uuid.New().String()
	}

	c, err := s.db.GetOrCreateCollection(collection, nil, s.embed)
	if err != nil {
		return fmt.Errorf("getting collection %s: %w", collection, err)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	if err := c.AddDocument(ctx, chromem.Document{ID: id, Metadata: md, Content: document}); err != nil {
		return fmt.Errorf("adding document to %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *ChromemEvidenceStore) Count(collection string) int {
	c := s.db.GetCollection(collection, s.embed)
	if c == nil {
		return 0
	}
	return c.Count()
}
