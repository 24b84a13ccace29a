package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func casePermutations(name string) []string {
	lower := strings.ToLower(name)
	upper := strings.ToUpper(name)
	mixed := []rune(lower)
	for i := range mixed {
		if i%2 == 0 {
			mixed[i] = []rune(strings.ToUpper(string(mixed[i])))[0]
		}
	}
	title := strings.ToUpper(lower[:1]) + lower[1:]
	return []string{lower, upper, string(mixed), title}
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	n := NewNormalizer(CurrentSchema)
	cases := []struct {
		column string
		value  any
		check  func(t *testing.T, r Record)
	}{
		{"status", "Approved", func(t *testing.T, r Record) { assert.Equal(t, StatusApproved, r.Status) }},
		{"contractor_name", "Gulf Works", func(t *testing.T, r Record) { assert.Equal(t, "Gulf Works", r.Contractor) }},
		{"job_no", "J-100", func(t *testing.T, r Record) { assert.Equal(t, "J-100", r.JobNo) }},
		{"totalcost", "1,250.500", func(t *testing.T, r Record) { assert.InDelta(t, 1250.5, r.TotalCost, 1e-9) }},
		{"title1", "Substation upgrade", func(t *testing.T, r Record) { assert.Equal(t, "Substation upgrade", r.Title) }},
		{"remarks", "looks fine", func(t *testing.T, r Record) { assert.Equal(t, "looks fine", r.Insight) }},
	}

	for _, tc := range cases {
		for _, key := range casePermutations(tc.column) {
			t.Run(tc.column+"/"+key, func(t *testing.T) {
				r := n.Normalize(Raw{"id": "row-1", key: tc.value})
				tc.check(t, r)
			})
		}
	}
}

func TestNormalizeStatusCasingVariantsAgree(t *testing.T) {
	n := NewNormalizer(LegacySchema)
	upper := n.Normalize(Raw{"Job_no": "J-1", "STATUS": "Pending"})
	lower := n.Normalize(Raw{"job_no": "J-2", "status": "Pending"})

	assert.Equal(t, StatusPending, upper.Status)
	assert.Equal(t, upper.Status, lower.Status)
	assert.Equal(t, upper.StatusText, lower.StatusText)
}

func TestNormalizeSkipsBlankCasingVariant(t *testing.T) {
	n := NewNormalizer(CurrentSchema)

	r := n.Normalize(Raw{"id": "1", "STATUS": "", "Status": "Approved"})
	assert.Equal(t, StatusApproved, r.Status)

	r = n.Normalize(Raw{"id": "1", "CONTRACTOR_NAME": nil, "Contractor_Name": "Acme"})
	assert.Equal(t, "Acme", r.Contractor)
}

func TestNormalizeMissingStatusUsesSentinel(t *testing.T) {
	n := NewNormalizer(CurrentSchema)
	r := n.Normalize(Raw{"id": "abc", "title": "Q4 Audit"})

	assert.Equal(t, StatusUnspecified, r.Status)
	assert.NotEmpty(t, r.Status)
	assert.Equal(t, "Q4 Audit", r.Title)
}

func TestNormalizeAliasOrder(t *testing.T) {
	n := NewNormalizer(CurrentSchema)

	t.Run("current name wins over legacy name", func(t *testing.T) {
		r := n.Normalize(Raw{"id": "1", "title": "Current", "title1": "Legacy"})
		assert.Equal(t, "Current", r.Title)
	})

	t.Run("exact match wins over case-insensitive match", func(t *testing.T) {
		r := n.Normalize(Raw{"id": "1", "status": "Draft", "STATUS": "Rejected"})
		assert.Equal(t, StatusDraft, r.Status)
	})

	t.Run("null current column falls back to legacy column", func(t *testing.T) {
		r := n.Normalize(Raw{"id": "1", "title": nil, "Title1": "Legacy"})
		assert.Equal(t, "Legacy", r.Title)
	})

	t.Run("budget and totalCost feed the same field", func(t *testing.T) {
		r := n.Normalize(Raw{"id": "1", "totalCost": 12.5})
		assert.InDelta(t, 12.5, r.TotalCost, 1e-9)
	})
}

func TestNormalizeDefaults(t *testing.T) {
	n := NewNormalizer(CurrentSchema)
	r := n.Normalize(Raw{})

	assert.True(t, IsPlaceholderID(r.ID))
	assert.False(t, r.Persisted())
	assert.Equal(t, StatusUnspecified, r.Status)
	assert.Equal(t, PriorityUnspecified, r.Priority)
	assert.Equal(t, CategoryUnspecified, r.Category)
	assert.Zero(t, r.TotalCost)
	assert.True(t, r.CreatedAt.IsZero())
	assert.False(t, r.IsAnalyzing)
}

func TestNormalizeIdentityFollowsSchema(t *testing.T) {
	row := Raw{"id": "7f0c", "JOB_NO": "J-77"}

	current := NewNormalizer(CurrentSchema).Normalize(row)
	legacy := NewNormalizer(LegacySchema).Normalize(row)

	assert.Equal(t, "7f0c", current.ID)
	assert.Equal(t, "J-77", legacy.ID)
	assert.Equal(t, "J-77", current.JobNo)

	orphan := NewNormalizer(LegacySchema).Normalize(Raw{"title1": "no job number"})
	assert.True(t, IsPlaceholderID(orphan.ID))
}

func TestNormalizeValueTypes(t *testing.T) {
	n := NewNormalizer(CurrentSchema)
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	r := n.Normalize(Raw{
		"id":         int64(42),
		"labcost":    []byte("10.250"),
		"matcost":    int64(3),
		"budget":     "BD 99.5",
		"created_at": created,
		"priority":   "HIGH",
		"category":   "financial",
	})

	assert.Equal(t, "42", r.ID)
	assert.InDelta(t, 10.25, r.LabCost, 1e-9)
	assert.InDelta(t, 3, r.MatCost, 1e-9)
	assert.InDelta(t, 99.5, r.TotalCost, 1e-9)
	assert.Equal(t, created, r.CreatedAt)
	assert.Equal(t, PriorityHigh, r.Priority)
	assert.Equal(t, CategoryFinancial, r.Category)

	r = n.Normalize(Raw{"id": "1", "created_at": "2025-03-01"})
	require.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, 2025, r.CreatedAt.Year())
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"":                 StatusUnspecified,
		"n/a":              StatusUnspecified,
		"On Hold":          StatusUnspecified,
		"Pending Approval": StatusPending,
		"APPROVED":         StatusApproved,
		"Job Completed":    StatusCompleted,
		"rejected":         StatusRejected,
		"In Progress":      StatusInProgress,
		"draft":            StatusDraft,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseStatus(input), "ParseStatus(%q)", input)
	}
}

func TestLookup(t *testing.T) {
	value, ok := Lookup(Raw{"Contractor_Name": "Acme"}, FieldContractor)
	require.True(t, ok)
	assert.Equal(t, "Acme", value)

	_, ok = Lookup(Raw{"contractor_name": "   "}, FieldContractor)
	assert.False(t, ok)
}
