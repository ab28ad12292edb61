// Package testutil holds testify mocks and fixtures shared by the package tests.
package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/pattern"
)

// MockEvidenceStore is a mock implementation of domain.EvidenceStore
type MockEvidenceStore struct {
	mock.Mock
}

func (m *MockEvidenceStore) Search(ctx context.Context, query, collection string, k int) (*domain.SearchHits, error) {
	args := m.Called(ctx, query, collection, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SearchHits), args.Error(1)
}

func (m *MockEvidenceStore) Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error {
	args := m.Called(ctx, collection, document, metadata, id)
	return args.Error(0)
}

// MockTextOracle is a mock implementation of domain.TextOracle
type MockTextOracle struct {
	mock.Mock
}

func (m *MockTextOracle) Complete(ctx context.Context, prompt, system string) (string, error) {
	args := m.Called(ctx, prompt, system)
	return args.String(0), args.Error(1)
}

func (m *MockTextOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockSessionAPI is a mock implementation of domain.SessionAPI
type MockSessionAPI struct {
	mock.Mock
}

func (m *MockSessionAPI) CreateSession(ctx context.Context, snapshot domain.HealthSnapshot) (*domain.Session, error) {
	args := m.Called(ctx, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionAPI) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionAPI) GetSessionStatus(ctx context.Context, id string) (domain.SessionStatusReport, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.SessionStatusReport), args.Error(1)
}

func (m *MockSessionAPI) SubmitAnswer(ctx context.Context, id string, answer domain.Answer) (*domain.AnalysisResult, error) {
	args := m.Called(ctx, id, answer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnalysisResult), args.Error(1)
}

func (m *MockSessionAPI) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPatternService is a mock of the pattern administration surface.
type MockPatternService struct {
	mock.Mock
}

func (m *MockPatternService) PatternStats() pattern.Stats {
	args := m.Called()
	return args.Get(0).(pattern.Stats)
}

func (m *MockPatternService) RecordPatternFeedback(ctx context.Context, id string, fb domain.PatternFeedback) (*domain.Pattern, error) {
	args := m.Called(ctx, id, fb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pattern), args.Error(1)
}

func (m *MockPatternService) ExportPatterns(ctx context.Context, w io.Writer) error {
	args := m.Called(ctx, w)
	if body, ok := args.Get(0).(string); ok {
		if _, err := io.WriteString(w, body); err != nil {
			return err
		}
	}
	return args.Error(1)
}

func (m *MockPatternService) ImportPatterns(ctx context.Context, r io.Reader) (int, int, error) {
	body, _ := io.ReadAll(r)
	args := m.Called(ctx, string(body))
	return args.Int(0), args.Int(1), args.Error(2)
}

// Hits builds aligned search hits.
func Hits(entries ...Hit) *domain.SearchHits {
	h := &domain.SearchHits{
		Documents: []string{},
		Metadatas: []map[string]string{},
		Distances: []float64{},
	}
	for _, e := range entries {
		h.Documents = append(h.Documents, e.Document)
		h.Metadatas = append(h.Metadatas, e.Metadata)
		h.Distances = append(h.Distances, e.Relevance)
	}
	return h
}

// Hit is one search result used to build fixtures.
type Hit struct {
	Document  string
	Relevance float64
	Metadata  map[string]string
}

// QuietLogger returns a logger that only reports fatal entries.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

// MemoryEvidenceStore is a deterministic in-memory store that answers exact
// (collection, query) pairs registered with On.
type MemoryEvidenceStore struct {
	mu      sync.Mutex
	results map[string]*domain.SearchHits
	calls   []string
}

// NewMemoryEvidenceStore creates an empty store.
func NewMemoryEvidenceStore() *MemoryEvidenceStore {
	return &MemoryEvidenceStore{results: make(map[string]*domain.SearchHits)}
}

// On registers the hits returned for (collection, query).
func (s *MemoryEvidenceStore) On(collection, query string, hits *domain.SearchHits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[collection+"|"+query] = hits
}

// Search returns the registered hits truncated to k, or empty hits.
func (s *MemoryEvidenceStore) Search(_ context.Context, query, collection string, k int) (*domain.SearchHits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, collection+"|"+query)
	h, ok := s.results[collection+"|"+query]
	if !ok {
		return Hits(), nil
	}
	n := h.Len()
	if k < n {
		n = k
	}
	return &domain.SearchHits{
		Documents: h.Documents[:n],
		Metadatas: h.Metadatas[:n],
		Distances: h.Distances[:n],
	}, nil
}

// Add is a no-op.
func (s *MemoryEvidenceStore) Add(context.Context, string, string, map[string]string, string) error {
	return nil
}

// Calls returns the "collection|query" keys searched so far.
func (s *MemoryEvidenceStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
