package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/metrics"
	"schemedesk/api/internal/record"
)

const (
	DefaultTimeout = 30 * time.Second
	// CollectionSampleSize bounds how many records a collection report embeds.
	CollectionSampleSize = 15
	InsightPrefix        = "[AI Analysis]: "
)

// Analysis is the structured result for one record.
type Analysis struct {
	Summary         string   `json:"summary"`
	RiskLevel       string   `json:"riskLevel"`
	Recommendations []string `json:"recommendations"`
	SuggestedStatus string   `json:"suggestedStatus"`
}

// Patch is the partial update a caller persists after a successful analysis.
func (a Analysis) Patch() record.Patch {
	insight := InsightPrefix + a.Summary
	suggested := a.SuggestedStatus
	return record.Patch{Insight: &insight, AppStatus: &suggested}
}

type Orchestrator struct {
	model   Model
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Orchestrator)

func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(logger) }
}

func NewOrchestrator(model Model, opts ...Option) *Orchestrator {
	o := &Orchestrator{model: model, timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AnalyzeOne asks for a structured audit of r.
func (o *Orchestrator) AnalyzeOne(ctx context.Context, r record.Record) (Analysis, error) {
	text, err := o.generate(ctx, "analyze_one", Request{Prompt: RecordPrompt(r), Structured: true})
	if err != nil {
		return Analysis{}, err
	}
	analysis, err := parseAnalysis(text)
	if err != nil {
		metrics.InferenceCalls.WithLabelValues("analyze_one_parse", metrics.ResultError).Inc()
		o.logger.Warn("analysis response rejected", zap.String("record_id", r.ID), zap.Error(err))
		return Analysis{}, &InferenceError{Op: "analysis", Err: err}
	}
	return analysis, nil
}

// AnalyzeCollection returns a narrative report over the first
// CollectionSampleSize records.
func (o *Orchestrator) AnalyzeCollection(ctx context.Context, records []record.Record) (string, error) {
	if len(records) == 0 {
		return "", &InferenceError{Op: "report", Err: ErrNoRecords}
	}
	prompt, err := CollectionPrompt(records)
	if err != nil {
		return "", &InferenceError{Op: "report", Err: err}
	}
	return o.generate(ctx, "analyze_collection", Request{Prompt: prompt})
}

func (o *Orchestrator) generate(ctx context.Context, op string, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	text, err := o.model.Generate(ctx, req)
	metrics.InferenceDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	metrics.InferenceCalls.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		o.logger.Error("inference call failed", zap.String("op", op), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		name := "analysis"
		if op == "analyze_collection" {
			name = "report"
		}
		return "", &InferenceError{Op: name, Err: err}
	}
	return text, nil
}

func parseAnalysis(text string) (Analysis, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	var a Analysis
	if err := dec.Decode(&a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return Analysis{}, fmt.Errorf("%w: trailing data", ErrMalformedResponse)
	}
	var missing []string
	if strings.TrimSpace(a.Summary) == "" {
		missing = append(missing, "summary")
	}
	if strings.TrimSpace(a.RiskLevel) == "" {
		missing = append(missing, "riskLevel")
	}
	if strings.TrimSpace(a.SuggestedStatus) == "" {
		missing = append(missing, "suggestedStatus")
	}
	if len(missing) > 0 {
		return Analysis{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}
	return a, nil
}

// IsMalformed reports whether err came from an unparseable model response.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// RecordPrompt is the audit prompt for one record. The same record always
// produces the same prompt.
func RecordPrompt(r record.Record) string {
	var b strings.Builder
	b.WriteString("Act as a senior engineering project auditor. Analyze this contract record:\n")
	line := func(label, value string) {
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	line("Job No", r.JobNo)
	line("App No", r.AppNumber)
	line("Contractor", r.Contractor)
	line("Title", r.Title)
	if r.Description != "" {
		line("Description", r.Description)
	}
	line("Remarks", r.ContractorRemarks)
	line("Appraisal", r.Appraisal)
	line("Total Cost", strconv.FormatFloat(r.TotalCost, 'f', 3, 64))
	line("Current Status", r.Status.String())
	if r.Priority != record.PriorityUnspecified {
		line("Priority", string(r.Priority))
	}
	if r.Category != record.CategoryUnspecified {
		line("Category", string(r.Category))
	}
	return b.String()
}

type collectionRow struct {
	Job        string  `json:"job"`
	Title      string  `json:"title,omitempty"`
	Contractor string  `json:"contractor"`
	Status     string  `json:"status"`
	Cost       float64 `json:"cost"`
	Remarks    string  `json:"remarks"`
}

// CollectionPrompt embeds at most CollectionSampleSize records.
func CollectionPrompt(records []record.Record) (string, error) {
	if len(records) > CollectionSampleSize {
		records = records[:CollectionSampleSize]
	}
	rows := make([]collectionRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, collectionRow{
			Job:        r.JobNo,
			Title:      r.Title,
			Contractor: r.Contractor,
			Status:     r.Status.String(),
			Cost:       r.TotalCost,
			Remarks:    r.ContractorRemarks,
		})
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return "Generate a high-level executive audit for a construction/industrial portfolio based on these records:\n" +
		string(data) +
		"\n\nFocus on identifying high-cost outliers, contractor performance trends, and critical bottlenecks. Keep it professional and concise.", nil
}
