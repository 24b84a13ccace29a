package record

import (
	"errors"
	"fmt"
	"strings"
)

// Column binds a logical field to a store column.
type Column struct {
	Field Field
	Name  string
}

// Schema describes one persisted shape of a scheme row: which columns exist,
// which one addresses a row, and which one records ownership.
type Schema struct {
	Name         string
	Table        string
	KeyField     Field
	KeyColumn    string
	KeyGenerated bool
	OwnerColumn  string
	OrderColumn  string
	Columns      []Column
}

// LegacySchema is the flat industrial job row. Rows are addressed by the
// application-level job number.
var LegacySchema = Schema{
	Name:        "legacy",
	Table:       "contracts_schemes",
	KeyField:    FieldJobNo,
	KeyColumn:   "job_no",
	OwnerColumn: "userid",
	Columns: []Column{
		{FieldJobNo, "job_no"},
		{FieldAppNumber, "appnumber"},
		{FieldSchemeRef, "sch_ref"},
		{FieldTitle, "title1"},
		{FieldContractor, "contractor_name"},
		{FieldSupervisor, "supervisor"},
		{FieldStatus, "status"},
		{FieldAppStatus, "appstatus"},
		{FieldArea, "area"},
		{FieldType, "type"},
		{FieldPONumber, "po_number"},
		{FieldContractorRemarks, "contractorremarks"},
		{FieldAppraisal, "contractorappraisal"},
		{FieldLabCost, "labcost"},
		{FieldMatCost, "matcost"},
		{FieldTotalCost, "totalcost"},
		{FieldInsight, "remarks"},
		{FieldReceivedDate, "rcvd_date"},
		{FieldCompletedDate, "date_of_completed"},
	},
}

// CurrentSchema is the generic scheme row with a store-generated id.
var CurrentSchema = Schema{
	Name:         "current",
	Table:        "contracts_schemes",
	KeyField:     FieldID,
	KeyColumn:    "id",
	KeyGenerated: true,
	OwnerColumn:  "created_by",
	OrderColumn:  "created_at",
	Columns: []Column{
		{FieldJobNo, "job_no"},
		{FieldTitle, "title"},
		{FieldDescription, "description"},
		{FieldContractor, "contractor_name"},
		{FieldStatus, "status"},
		{FieldAppStatus, "suggested_status"},
		{FieldPriority, "priority"},
		{FieldCategory, "category"},
		{FieldTotalCost, "budget"},
		{FieldInsight, "ai_insight"},
	},
}

// SchemaByName returns a built-in schema.
func SchemaByName(name string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "current":
		return CurrentSchema, nil
	case "legacy":
		return LegacySchema, nil
	default:
		return Schema{}, fmt.Errorf("unknown record schema %q", name)
	}
}

// WithTable returns a copy of the schema bound to another table.
func (s Schema) WithTable(table string) Schema {
	if strings.TrimSpace(table) != "" {
		s.Table = table
	}
	return s
}

// Column returns the store column for field, if the schema persists it.
func (s Schema) Column(field Field) (string, bool) {
	for _, col := range s.Columns {
		if col.Field == field {
			return col.Name, true
		}
	}
	return "", false
}

// WriteMode distinguishes inserts from updates.
type WriteMode int

const (
	ModeCreate WriteMode = iota
	ModeUpdate
)

// WriteContext carries what a write needs beyond the record itself.
type WriteContext struct {
	UserID string
	Mode   WriteMode
}

var ErrMissingKey = errors.New("record key is required")

// Validate checks that a record can be written under the schema. An
// application-assigned key is written on every save, so it must be present
// on updates too.
func (s Schema) Validate(r Record, mode WriteMode) error {
	if s.KeyGenerated {
		return nil
	}
	key, _ := fieldValue(r, s.KeyField).(string)
	if strings.TrimSpace(key) == "" || IsPlaceholderID(key) {
		return fmt.Errorf("%w: %s", ErrMissingKey, s.KeyColumn)
	}
	return nil
}

// FillKey sets r's application-assigned key to key when r carries none, so
// an edit that omits the key keeps the row's identity.
func (s Schema) FillKey(r Record, key string) Record {
	if s.KeyGenerated {
		return r
	}
	current, _ := fieldValue(r, s.KeyField).(string)
	if strings.TrimSpace(current) != "" && !IsPlaceholderID(current) {
		return r
	}
	switch s.KeyField {
	case FieldJobNo:
		r.JobNo = key
	case FieldID:
		r.ID = key
	}
	return r
}

// Denormalize builds the write payload for r. It emits only the schema's
// columns, never view state, never a server-generated or placeholder key,
// and always stamps the writing user into the owner column. Blank text is
// written as NULL.
func (s Schema) Denormalize(r Record, w WriteContext) Payload {
	payload := make(Payload, len(s.Columns)+1)
	for _, col := range s.Columns {
		if col.Field == FieldID {
			continue
		}
		value := fieldValue(r, col.Field)
		if text, ok := value.(string); ok && text == "" {
			value = nil
		}
		payload[col.Name] = value
	}
	if key, ok := payload[s.KeyColumn].(string); ok && IsPlaceholderID(key) {
		delete(payload, s.KeyColumn)
	}
	if s.KeyGenerated {
		delete(payload, s.KeyColumn)
	}
	s.stamp(payload, w)
	return payload
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status    *Status
	AppStatus *string
	Insight   *string
	Priority  *Priority
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.AppStatus == nil && p.Insight == nil && p.Priority == nil
}

// PatchPayload builds the write payload for a partial update. Fields the
// schema does not persist are dropped. The owner column is left alone: a
// status change or an analysis does not transfer ownership.
func (s Schema) PatchPayload(p Patch) Payload {
	payload := make(Payload, 5)
	set := func(field Field, value any) {
		if name, ok := s.Column(field); ok {
			payload[name] = value
		}
	}
	if p.Status != nil {
		set(FieldStatus, statusValue(*p.Status, ""))
	}
	if p.AppStatus != nil {
		set(FieldAppStatus, *p.AppStatus)
	}
	if p.Insight != nil {
		set(FieldInsight, *p.Insight)
	}
	if p.Priority != nil {
		set(FieldPriority, optional(string(*p.Priority)))
	}
	return payload
}

func (s Schema) stamp(payload Payload, w WriteContext) {
	if s.OwnerColumn != "" {
		payload[s.OwnerColumn] = w.UserID
	}
}

func fieldValue(r Record, field Field) any {
	switch field {
	case FieldID:
		return r.ID
	case FieldJobNo:
		return r.JobNo
	case FieldAppNumber:
		return r.AppNumber
	case FieldSchemeRef:
		return r.SchemeRef
	case FieldTitle:
		return r.Title
	case FieldDescription:
		return r.Description
	case FieldContractor:
		return r.Contractor
	case FieldSupervisor:
		return r.Supervisor
	case FieldStatus:
		return statusValue(r.Status, r.StatusText)
	case FieldAppStatus:
		return r.AppStatus
	case FieldPriority:
		return optional(string(r.Priority))
	case FieldCategory:
		return optional(string(r.Category))
	case FieldArea:
		return r.Area
	case FieldType:
		return r.Type
	case FieldPONumber:
		return r.PONumber
	case FieldContractorRemarks:
		return r.ContractorRemarks
	case FieldAppraisal:
		return r.Appraisal
	case FieldLabCost:
		return r.LabCost
	case FieldMatCost:
		return r.MatCost
	case FieldTotalCost:
		return r.TotalCost
	case FieldInsight:
		return r.Insight
	case FieldCreatedBy:
		return r.CreatedBy
	case FieldReceivedDate:
		return r.ReceivedDate
	case FieldCompletedDate:
		return r.CompletedDate
	default:
		return nil
	}
}

// statusValue keeps the stored text when it still means the same status, so
// legacy labels survive a round trip.
func statusValue(status Status, text string) any {
	if text != "" && ParseStatus(text) == status {
		return text
	}
	if status == "" || status == StatusUnspecified {
		return nil
	}
	return string(status)
}

func optional(value string) any {
	if value == "" {
		return nil
	}
	return value
}
