package search

import "schemedesk/api/internal/record"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string        `json:"id"`
	JobNo      string        `json:"jobNo"`
	Title      string        `json:"title"`
	Contractor string        `json:"contractor"`
	Status     record.Status `json:"status"`
	Snippet    string        `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Status record.Status // empty = any status
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Fallback filters the in-memory collection when the index is unavailable.
type Fallback interface {
	Filter(query string, status record.Status) []record.Record
}

// Document is the data we index for a record.
type Document struct {
	ID          string  `json:"id"`
	RecordID    string  `json:"recordId"`
	JobNo       string  `json:"jobNo"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Contractor  string  `json:"contractor"`
	Status      string  `json:"status"`
	AppStatus   string  `json:"appStatus"`
	Insight     string  `json:"insight"`
	Remarks     string  `json:"remarks"`
	TotalCost   float64 `json:"totalCost"`
}

// DocumentFor maps a record onto its index document. Placeholder ids are
// not addressable and yield ok=false.
func DocumentFor(r record.Record) (Document, bool) {
	if !r.Persisted() {
		return Document{}, false
	}
	return Document{
		ID:          indexID(r.ID),
		RecordID:    r.ID,
		JobNo:       r.JobNo,
		Title:       r.Title,
		Description: r.Description,
		Contractor:  r.Contractor,
		Status:      r.Status.String(),
		AppStatus:   r.AppStatus,
		Insight:     r.Insight,
		Remarks:     r.ContractorRemarks,
		TotalCost:   r.TotalCost,
	}, true
}

// indexID maps a record id onto Meilisearch's primary key alphabet
// (a-z A-Z 0-9 - _). Job numbers such as "J/2024/1" would otherwise be rejected.
func indexID(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
			out = append(out, "0123456789abcdef"[c>>4], "0123456789abcdef"[c&0x0f])
		}
	}
	return string(out)
}
