// Package table implements the Living Table: an incrementally updated grid of candidate
// products by comparison fields where every cell tracks its own enrichment status.
//
// Invariants:
//   - no two rows normalize to the same product name;
//   - every row has exactly one cell per field;
//   - cell status only moves along the transitions in CanTransition.
//
// A Table is not safe for concurrent mutation. Workflow handlers mutate a Clone and hand
// it back as part of their state update.
package table

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Table is the Living Table aggregate.
type Table struct {
	rows     []*Row
	byID     map[string]*Row
	fields   []FieldDefinition
	fieldIdx map[string]int
	now      func() time.Time
}

// New returns an empty table.
func New() *Table {
	return &Table{
		byID:     make(map[string]*Row),
		fieldIdx: make(map[string]int),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source, for tests.
func (t *Table) SetClock(now func() time.Time) {
	t.now = now
}

// AddRow inserts candidate unless a row with the same normalized name already exists,
// in which case it returns inserted=false and the existing row's ID. New rows get a
// PENDING cell for every defined field.
func (t *Table) AddRow(c Candidate) (inserted bool, rowID string) {
	if existing := t.FindRow(c.Name); existing != nil {
		return false, existing.ID
	}
	if NormalizeName(c.Name) == "" {
		return false, ""
	}

	now := t.now()
	row := &Row{
		ID:        uuid.NewString(),
		Candidate: c,
		Cells:     make(map[string]*Cell, len(t.fields)),
		AddedAt:   now,
	}
	for i := range t.fields {
		row.Cells[t.fields[i].Name] = &Cell{Status: StatusPending, UpdatedAt: now}
	}
	t.rows = append(t.rows, row)
	t.byID[row.ID] = row
	return true, row.ID
}

// AddField appends def and gives every existing row a PENDING cell for it. A field of
// the same name is never overwritten; the call then returns false.
func (t *Table) AddField(def FieldDefinition) bool {
	if def.Name == "" {
		return false
	}
	if _, exists := t.fieldIdx[def.Name]; exists {
		return false
	}
	if def.Label == "" {
		def.Label = LabelFor(def.Name)
	}
	if def.DataType == "" {
		def.DataType = TypeString
	}

	t.fieldIdx[def.Name] = len(t.fields)
	t.fields = append(t.fields, def)

	now := t.now()
	for _, row := range t.rows {
		row.Cells[def.Name] = &Cell{Status: StatusPending, UpdatedAt: now}
	}
	return true
}

// UpdateCell sets a cell's value and status. Missing rows or fields yield a
// *NotFoundError; FAILED requires errMsg; disallowed status moves yield
// ErrInvalidTransition.
func (t *Table) UpdateCell(rowID, field string, value any, status CellStatus, source, errMsg string) error {
	row, ok := t.byID[rowID]
	if !ok {
		return &NotFoundError{Kind: "row", Key: rowID}
	}
	cell, ok := row.Cells[field]
	if !ok {
		return &NotFoundError{Kind: "field", Key: field}
	}
	if status == StatusFailed && strings.TrimSpace(errMsg) == "" {
		return ErrErrorRequired
	}
	if !CanTransition(cell.Status, status) {
		return fmt.Errorf("%w: %s -> %s for %s/%s", ErrInvalidTransition, cell.Status, status, row.Candidate.Name, field)
	}

	cell.Status = status
	cell.UpdatedAt = t.now()
	cell.Source = source
	switch status {
	case StatusEnriched:
		cell.Value = value
		cell.Error = ""
	case StatusFailed:
		cell.Value = nil
		cell.Error = errMsg
	case StatusFlagged:
		// Keep the old value visible while it is re-checked.
		cell.Error = errMsg
	}

	if field == FieldMeetsRequirements {
		switch status {
		case StatusEnriched:
			qualified := truthy(value)
			row.MeetsRequirements = &qualified
		case StatusFailed:
			row.MeetsRequirements = nil
		}
	}
	return nil
}

// FlagCell queues an ENRICHED or FAILED cell for re-checking.
func (t *Table) FlagCell(rowID, field, reason string) error {
	if reason == "" {
		reason = "flagged for re-check"
	}
	return t.UpdateCell(rowID, field, nil, StatusFlagged, "user", reason)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "true", "1", "y":
			return true
		}
	case float64:
		return x == 1
	case int:
		return x == 1
	}
	return false
}

// PendingCells returns every PENDING or FLAGGED cell in row then field order.
func (t *Table) PendingCells() []CellRef {
	var refs []CellRef
	for _, row := range t.rows {
		for i := range t.fields {
			cell := row.Cells[t.fields[i].Name]
			if cell.Status == StatusPending || cell.Status == StatusFlagged {
				refs = append(refs, CellRef{
					RowID:     row.ID,
					Candidate: row.Candidate,
					Field:     t.fields[i],
					Status:    cell.Status,
				})
			}
		}
	}
	return refs
}

// PendingCellsFor restricts PendingCells to the named fields.
func (t *Table) PendingCellsFor(fields []string) []CellRef {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	var refs []CellRef
	for _, ref := range t.PendingCells() {
		if want[ref.Field.Name] {
			refs = append(refs, ref)
		}
	}
	return refs
}

// FailedCells returns every FAILED cell.
func (t *Table) FailedCells() []CellRef {
	var refs []CellRef
	for _, row := range t.rows {
		for i := range t.fields {
			if row.Cells[t.fields[i].Name].Status == StatusFailed {
				refs = append(refs, CellRef{RowID: row.ID, Candidate: row.Candidate, Field: t.fields[i], Status: StatusFailed})
			}
		}
	}
	return refs
}

// FieldNames returns field names in definition order.
func (t *Table) FieldNames(excludeInternal bool) []string {
	names := make([]string, 0, len(t.fields))
	for i := range t.fields {
		if excludeInternal && t.fields[i].Internal() {
			continue
		}
		names = append(names, t.fields[i].Name)
	}
	return names
}

// Fields returns a copy of the field definitions.
func (t *Table) Fields() []FieldDefinition {
	return append([]FieldDefinition(nil), t.fields...)
}

// Field looks up a definition by name.
func (t *Table) Field(name string) (FieldDefinition, bool) {
	i, ok := t.fieldIdx[name]
	if !ok {
		return FieldDefinition{}, false
	}
	return t.fields[i], true
}

// HasField reports whether name is defined.
func (t *Table) HasField(name string) bool {
	_, ok := t.fieldIdx[name]
	return ok
}

// Rows returns the rows in insertion order. Callers must treat them as read-only.
func (t *Table) Rows() []*Row {
	return append([]*Row(nil), t.rows...)
}

// Row looks up a row by ID.
func (t *Table) Row(id string) (*Row, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	return len(t.rows)
}

// FindRow returns the row whose name matches name fuzzily, or nil.
func (t *Table) FindRow(name string) *Row {
	norm := NormalizeName(name)
	if norm == "" {
		return nil
	}
	for _, row := range t.rows {
		if SameProduct(norm, NormalizeName(row.Candidate.Name)) {
			return row
		}
	}
	return nil
}

// QualifiedRows returns rows whose qualification field enriched to true.
func (t *Table) QualifiedRows() []*Row {
	var out []*Row
	for _, row := range t.rows {
		if row.MeetsRequirements != nil && *row.MeetsRequirements {
			out = append(out, row)
		}
	}
	return out
}

// EnrichmentProgress returns the number of ENRICHED cells and the total cell count.
func (t *Table) EnrichmentProgress() (enriched, total int) {
	for _, row := range t.rows {
		for _, cell := range row.Cells {
			total++
			if cell.Status == StatusEnriched {
				enriched++
			}
		}
	}
	return enriched, total
}

// StatusCounts tallies cells by status.
func (t *Table) StatusCounts() map[CellStatus]int {
	counts := make(map[CellStatus]int, 4)
	for _, row := range t.rows {
		for _, cell := range row.Cells {
			counts[cell.Status]++
		}
	}
	return counts
}

// Completeness is the share of a row's user-facing cells that are ENRICHED.
func (t *Table) Completeness(row *Row) float64 {
	total, done := 0, 0
	for i := range t.fields {
		if t.fields[i].Internal() {
			continue
		}
		total++
		if c := row.Cells[t.fields[i].Name]; c != nil && c.Status == StatusEnriched {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// LabelFor derives a display label from a snake_case field name.
func LabelFor(name string) string {
	parts := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, p := range parts {
		switch p {
		case "url":
			parts[i] = "URL"
		default:
			r, size := utf8.DecodeRuneInString(p)
			parts[i] = string(unicode.ToUpper(r)) + p[size:]
		}
	}
	return strings.Join(parts, " ")
}
