package table

import (
	"errors"
	"fmt"
	"time"
)

// CellStatus is the lifecycle state of one table cell.
type CellStatus string

// Cell statuses.
const (
	StatusPending  CellStatus = "PENDING"
	StatusEnriched CellStatus = "ENRICHED"
	StatusFailed   CellStatus = "FAILED"
	StatusFlagged  CellStatus = "FLAGGED"
)

// allowedTransitions is the only place cell status moves are defined.
//
//nolint:gochecknoglobals // static transition table
var allowedTransitions = map[CellStatus][]CellStatus{
	StatusPending:  {StatusEnriched, StatusFailed},
	StatusEnriched: {StatusFlagged},
	StatusFailed:   {StatusFlagged},
	StatusFlagged:  {StatusEnriched, StatusFailed},
}

// CanTransition reports whether a cell may move from one status to another.
func CanTransition(from, to CellStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// FieldCategory tags where a field definition came from.
type FieldCategory string

// Field categories.
const (
	CategoryStandard      FieldCategory = "standard"
	CategorySpecific      FieldCategory = "category"
	CategoryUserDriven    FieldCategory = "user_driven"
	CategoryQualification FieldCategory = "qualification"
)

// DataType is the declared type of a field's values.
type DataType string

// Data types.
const (
	TypeString     DataType = "string"
	TypeNumber     DataType = "number"
	TypeBoolean    DataType = "boolean"
	TypeList       DataType = "list"
	TypeStructured DataType = "structured"
)

// Standard and qualification field names.
const (
	FieldName              = "name"
	FieldPrice             = "price"
	FieldOfficialURL       = "official_url"
	FieldMeetsRequirements = "meets_requirements"
)

// FieldDefinition is one comparison dimension.
type FieldDefinition struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Category FieldCategory `json:"category"`
	DataType DataType      `json:"data_type"`
	Prompt   string        `json:"prompt"`
}

// Internal reports whether the field is hidden from users.
func (f FieldDefinition) Internal() bool {
	return f.Category == CategoryQualification
}

// Candidate is one discovered product.
type Candidate struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	OfficialURL  string `json:"official_url,omitempty"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	SourceQuery  string `json:"source_query,omitempty"`
}

// Cell holds the value of one (row, field) pair.
type Cell struct {
	Value     any        `json:"value,omitempty"`
	Status    CellStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
	Source    string     `json:"source,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Row wraps a candidate and its cells. MeetsRequirements is unset until the
// qualification field has been enriched.
type Row struct {
	ID                string           `json:"id"`
	Candidate         Candidate        `json:"candidate"`
	Cells             map[string]*Cell `json:"cells"`
	MeetsRequirements *bool            `json:"meets_requirements,omitempty"`
	AddedAt           time.Time        `json:"added_at"`
}

// Cell returns the named cell or nil.
func (r *Row) Cell(field string) *Cell {
	return r.Cells[field]
}

// CellRef identifies a cell together with its row and field context.
type CellRef struct {
	RowID     string
	Candidate Candidate
	Field     FieldDefinition
	Status    CellStatus
}

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition rejects a disallowed cell status move.
	ErrInvalidTransition = errors.New("invalid cell status transition")
	// ErrErrorRequired rejects a FAILED update without an error message.
	ErrErrorRequired = errors.New("failed cell requires an error message")
)

// NotFoundError names the missing row or field.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) work.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
