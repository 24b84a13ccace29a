package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/record"
)

const idxRecords = "schemedesk_records"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}

	syncMu   sync.Mutex
	syncGen  uint64
	indexed  map[string]struct{}
	interval time.Duration
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error; the health loop keeps checking.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client:   meili.New(url, meili.WithAPIKey(apiKey)),
		logger:   logging.OrNop(logger),
		done:     make(chan struct{}),
		indexed:  map[string]struct{}{},
		interval: 10 * time.Second,
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxRecords,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxRecords), zap.Error(err))
	}

	index := m.client.Index(idxRecords)
	filterable := []interface{}{"status", "appStatus", "contractor"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxRecords), zap.Error(err))
	}
	searchable := []string{"jobNo", "title", "contractor", "description", "remarks", "insight"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxRecords), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxRecords,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "description", "remarks", "insight"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.Status != "" {
		sr.Filter = []string{fmt.Sprintf("status = %q", string(q.Status))}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "recordId"),
		JobNo:      decodeString(hit, "jobNo"),
		Title:      decodeString(hit, "title"),
		Contractor: decodeString(hit, "contractor"),
		Status:     record.ParseStatus(decodeString(hit, "status")),
		Snippet: firstNonBlank(
			decodeFormattedString(hit, "insight"),
			decodeFormattedString(hit, "remarks"),
			decodeFormattedString(hit, "description"),
			decodeFormattedString(hit, "title"),
		),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// ReplaceAll makes the index mirror docs. Calls with a generation at or
// below the last synced one are ignored, so late goroutines cannot roll the
// index back.
func (m *Meili) ReplaceAll(generation uint64, docs []Document) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	if generation <= m.syncGen {
		return nil
	}

	index := m.client.Index(idxRecords)
	next := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		next[doc.ID] = struct{}{}
	}
	if len(docs) > 0 {
		if _, err := index.AddDocuments(docs, nil); err != nil {
			return fmt.Errorf("index records: %w", err)
		}
	}
	for id := range m.indexed {
		if _, keep := next[id]; keep {
			continue
		}
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete record %s from index: %w", id, err)
		}
	}
	m.indexed = next
	m.syncGen = generation
	return nil
}
