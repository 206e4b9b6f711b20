package table

import (
	"encoding/json"
	"fmt"
	"time"
)

// Clone returns a deep copy whose rows and cells can be mutated independently.
func (t *Table) Clone() *Table {
	if t == nil {
		return New()
	}
	c := New()
	c.now = t.now
	c.fields = append(c.fields, t.fields...)
	for k, v := range t.fieldIdx {
		c.fieldIdx[k] = v
	}
	for _, row := range t.rows {
		nr := &Row{
			ID:        row.ID,
			Candidate: row.Candidate,
			Cells:     make(map[string]*Cell, len(row.Cells)),
			AddedAt:   row.AddedAt,
		}
		if row.MeetsRequirements != nil {
			v := *row.MeetsRequirements
			nr.MeetsRequirements = &v
		}
		for name, cell := range row.Cells {
			cp := *cell
			nr.Cells[name] = &cp
		}
		c.rows = append(c.rows, nr)
		c.byID[nr.ID] = nr
	}
	return c
}

type snapshot struct {
	Fields []FieldDefinition `json:"fields"`
	Rows   []*Row            `json:"rows"`
}

// MarshalJSON encodes the table as fields plus rows.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.rows
	if rows == nil {
		rows = []*Row{}
	}
	fields := t.fields
	if fields == nil {
		fields = []FieldDefinition{}
	}
	return json.Marshal(snapshot{Fields: fields, Rows: rows})
}

// UnmarshalJSON rebuilds the table and its indices, filling any missing cells as PENDING.
func (t *Table) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode table snapshot: %w", err)
	}

	fresh := New()
	for _, f := range snap.Fields {
		fresh.AddField(f)
	}
	for _, row := range snap.Rows {
		if row == nil || row.ID == "" {
			return fmt.Errorf("decode table snapshot: row without id")
		}
		if row.Cells == nil {
			row.Cells = make(map[string]*Cell)
		}
		for i := range fresh.fields {
			if row.Cells[fresh.fields[i].Name] == nil {
				row.Cells[fresh.fields[i].Name] = &Cell{Status: StatusPending, UpdatedAt: time.Now()}
			}
		}
		fresh.rows = append(fresh.rows, row)
		fresh.byID[row.ID] = row
	}
	*t = *fresh
	return nil
}
