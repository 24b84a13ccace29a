package search

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/viewcache"
)

const (
	EngineMeili = "meilisearch"
	EngineLocal = "local"
)

// Indexer is the write side of the search index.
type Indexer interface {
	Searcher
	ReplaceAll(generation uint64, docs []Document) error
}

// Service tries Meilisearch first and falls back to filtering the cached
// collection.
type Service struct {
	index    Indexer
	fallback Fallback
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Indexer, fallback Fallback, logger *zap.Logger) *Service {
	return &Service{index: index, fallback: fallback, logger: logging.OrNop(logger)}
}

func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineMeili}
		}
		s.logger.Warn("meilisearch error, falling back to local filter", zap.Error(err))
	}
	return s.local(q)
}

func (s *Service) local(q Query) Response {
	resp := Response{Results: []Result{}, Query: q.Text, Engine: EngineLocal}
	if s.fallback == nil {
		return resp
	}
	matches := s.fallback.Filter(q.Text, q.Status)
	resp.Total = len(matches)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := min(max(q.Offset, 0), len(matches))
	end := min(start+limit, len(matches))
	for _, r := range matches[start:end] {
		resp.Results = append(resp.Results, Result{
			ID:         r.ID,
			JobNo:      r.JobNo,
			Title:      r.Title,
			Contractor: r.Contractor,
			Status:     r.Status,
			Snippet:    firstNonBlank(r.Insight, r.ContractorRemarks, r.Description),
		})
	}
	return resp
}

// Sync pushes a collection generation to the index in the background.
// Unpersisted records are skipped.
func (s *Service) Sync(generation uint64, records []record.Record) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		if doc, ok := DocumentFor(r); ok {
			docs = append(docs, doc)
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.index.ReplaceAll(generation, docs); err != nil {
			s.logger.Warn("sync search index", zap.Uint64("generation", generation), zap.Error(err))
		}
	}()
}

// Follow mirrors every refetched collection from cache into the index.
func (s *Service) Follow(cache *viewcache.Cache) (stop func()) {
	return cache.Watch(func(change viewcache.Change) {
		if !change.Refetch {
			return
		}
		s.Sync(change.Generation, cache.Snapshot())
	})
}

// Wait blocks until in-flight syncs finish or ctx is done.
func (s *Service) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
