package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field names one logical attribute of a Record.
type Field string

const (
	FieldID                Field = "id"
	FieldJobNo             Field = "jobNo"
	FieldAppNumber         Field = "appNumber"
	FieldSchemeRef         Field = "schemeRef"
	FieldTitle             Field = "title"
	FieldDescription       Field = "description"
	FieldContractor        Field = "contractor"
	FieldSupervisor        Field = "supervisor"
	FieldStatus            Field = "status"
	FieldAppStatus         Field = "appStatus"
	FieldPriority          Field = "priority"
	FieldCategory          Field = "category"
	FieldArea              Field = "area"
	FieldType              Field = "type"
	FieldPONumber          Field = "poNumber"
	FieldContractorRemarks Field = "contractorRemarks"
	FieldAppraisal         Field = "appraisal"
	FieldLabCost           Field = "labCost"
	FieldMatCost           Field = "matCost"
	FieldTotalCost         Field = "totalCost"
	FieldInsight           Field = "insight"
	FieldCreatedBy         Field = "createdBy"
	FieldCreatedAt         Field = "createdAt"
	FieldReceivedDate      Field = "receivedDate"
	FieldCompletedDate     Field = "completedDate"
)

// Aliases lists, per logical field, every column name the store has used for
// it. The current name comes first, then legacy names. Lookup tries them in
// order, exact match first and case-insensitive second, so casing variants of
// the same name need not be listed.
var Aliases = map[Field][]string{
	FieldID:                {"id"},
	FieldJobNo:             {"job_no", "jobNo", "job_number"},
	FieldAppNumber:         {"appnumber", "app_number"},
	FieldSchemeRef:         {"sch_ref", "scheme_ref"},
	FieldTitle:             {"title", "Title1"},
	FieldDescription:       {"description"},
	FieldContractor:        {"contractor_name", "contractor"},
	FieldSupervisor:        {"supervisor"},
	FieldStatus:            {"status"},
	FieldAppStatus:         {"suggested_status", "appstatus", "app_status"},
	FieldPriority:          {"priority"},
	FieldCategory:          {"category"},
	FieldArea:              {"area"},
	FieldType:              {"type"},
	FieldPONumber:          {"po_number"},
	FieldContractorRemarks: {"contractorremarks", "contractor_remarks"},
	FieldAppraisal:         {"contractorappraisal", "contractor_appraisal"},
	FieldLabCost:           {"labcost", "lab_cost"},
	FieldMatCost:           {"matcost", "mat_cost"},
	FieldTotalCost:         {"budget", "totalcost", "total_cost"},
	FieldInsight:           {"ai_insight", "aiInsight", "remarks"},
	FieldCreatedBy:         {"created_by", "createdBy", "userid", "user_id"},
	FieldCreatedAt:         {"created_at", "createdAt"},
	FieldReceivedDate:      {"rcvd_date", "received_date"},
	FieldCompletedDate:     {"date_of_completed", "completed_date"},
}

const placeholderPrefix = "local_"

// NewPlaceholderID returns a local identifier for a record the store did not
// identify. It must never be used as a write key.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id was produced by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// Normalizer maps raw store rows onto canonical records for one schema.
type Normalizer struct {
	schema Schema
}

func NewNormalizer(schema Schema) *Normalizer {
	return &Normalizer{schema: schema}
}

// Schema returns the write schema the normalizer resolves identifiers with.
func (n *Normalizer) Schema() Schema {
	return n.schema
}

// Normalize never fails. Fields absent under every alias take their default.
func (n *Normalizer) Normalize(raw Raw) Record {
	l := newLookup(raw)

	statusText := l.text(FieldStatus)
	r := Record{
		JobNo:             l.text(FieldJobNo),
		AppNumber:         l.text(FieldAppNumber),
		SchemeRef:         l.text(FieldSchemeRef),
		Title:             l.text(FieldTitle),
		Description:       l.text(FieldDescription),
		Contractor:        l.text(FieldContractor),
		Supervisor:        l.text(FieldSupervisor),
		Status:            ParseStatus(statusText),
		StatusText:        statusText,
		AppStatus:         l.text(FieldAppStatus),
		Priority:          ParsePriority(l.text(FieldPriority)),
		Category:          ParseCategory(l.text(FieldCategory)),
		Area:              l.text(FieldArea),
		Type:              l.text(FieldType),
		PONumber:          l.text(FieldPONumber),
		ContractorRemarks: l.text(FieldContractorRemarks),
		Appraisal:         l.text(FieldAppraisal),
		LabCost:           l.number(FieldLabCost),
		MatCost:           l.number(FieldMatCost),
		TotalCost:         l.number(FieldTotalCost),
		Insight:           l.text(FieldInsight),
		CreatedBy:         l.text(FieldCreatedBy),
		CreatedAt:         l.timestamp(FieldCreatedAt),
		ReceivedDate:      l.text(FieldReceivedDate),
		CompletedDate:     l.text(FieldCompletedDate),
	}

	r.ID = l.text(n.schema.KeyField)
	if r.ID == "" {
		r.ID = NewPlaceholderID()
	}
	return r
}

// NormalizeAll normalizes rows in order.
func (n *Normalizer) NormalizeAll(rows []Raw) []Record {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, n.Normalize(row))
	}
	return records
}

// Lookup resolves one logical field in raw using the alias table.
func Lookup(raw Raw, field Field) (any, bool) {
	return newLookup(raw).find(field)
}

type lookup struct {
	raw   Raw
	folds map[string][]string
}

func newLookup(raw Raw) *lookup {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	// Several keys can fold to the same name. They are tried in sorted order.
	sort.Strings(keys)
	folds := make(map[string][]string, len(keys))
	for _, key := range keys {
		folded := strings.ToLower(key)
		folds[folded] = append(folds[folded], key)
	}
	return &lookup{raw: raw, folds: folds}
}

func (l *lookup) find(field Field) (any, bool) {
	aliases := Aliases[field]
	for _, alias := range aliases {
		if value, ok := l.raw[alias]; ok && present(value) {
			return value, true
		}
	}
	for _, alias := range aliases {
		for _, key := range l.folds[strings.ToLower(alias)] {
			if value := l.raw[key]; present(value) {
				return value, true
			}
		}
	}
	return nil, false
}

func (l *lookup) text(field Field) string {
	value, ok := l.find(field)
	if !ok {
		return ""
	}
	return toText(value)
}

func (l *lookup) number(field Field) float64 {
	value, ok := l.find(field)
	if !ok {
		return 0
	}
	return toNumber(value)
}

func (l *lookup) timestamp(field Field) time.Time {
	value, ok := l.find(field)
	if !ok {
		return time.Time{}
	}
	return toTime(value)
}

func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case []byte:
		return strings.TrimSpace(string(v)) != ""
	default:
		return true
	}
}

func toText(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case [16]byte:
		return uuid.UUID(v).String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func toNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return parseAmount(toText(v))
	}
}

// parseAmount reads amounts such as "BD 1,250.500", dropping everything but
// digits, the sign and the decimal point.
func parseAmount(text string) float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(value any) time.Time {
	if t, ok := value.(time.Time); ok {
		return t.UTC()
	}
	text := toText(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
