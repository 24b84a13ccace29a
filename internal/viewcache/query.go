package viewcache

import (
	"strings"

	"schemedesk/api/internal/record"
)

// Filter returns records whose job number, contractor or title contains
// query (case-insensitive) and, when status is set, whose status matches.
func (c *Cache) Filter(query string, status record.Status) []record.Record {
	return FilterRecords(c.Snapshot(), query, status)
}

func FilterRecords(records []record.Record, query string, status record.Status) []record.Record {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if status != "" && r.Status != status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.JobNo), needle) &&
			!strings.Contains(strings.ToLower(r.Contractor), needle) &&
			!strings.Contains(strings.ToLower(r.Title), needle) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stats is the dashboard summary of the collection.
type Stats struct {
	Total               int                   `json:"total"`
	ByStatus            map[record.Status]int `json:"byStatus"`
	PortfolioValue      float64               `json:"portfolioValue"`
	PendingApplications int                   `json:"pendingApplications"`
	AverageCost         float64               `json:"averageCost"`
}

func (c *Cache) Stats() Stats {
	return Summarize(c.Snapshot())
}

func Summarize(records []record.Record) Stats {
	stats := Stats{Total: len(records), ByStatus: make(map[record.Status]int)}
	for _, r := range records {
		stats.ByStatus[r.Status]++
		stats.PortfolioValue += r.TotalCost
		if strings.Contains(strings.ToLower(r.AppStatus), "pending") {
			stats.PendingApplications++
		}
	}
	if stats.Total > 0 {
		stats.AverageCost = stats.PortfolioValue / float64(stats.Total)
	}
	return stats
}
