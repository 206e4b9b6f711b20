package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const maxCellChars = 50

// Display markers for cells without a usable value.
const (
	MarkPending     = "*(pending)*"
	MarkRechecking  = "*(re-checking)*"
	MarkUnavailable = "*(unavailable)*"
)

// FormatValue renders a cell value as plain text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		if b, err := json.Marshal(x); err == nil {
			return string(b)
		}
		return fmt.Sprint(x)
	}
}

func displayCell(c *Cell) string {
	if c == nil {
		return MarkPending
	}
	switch c.Status {
	case StatusPending:
		return MarkPending
	case StatusFlagged:
		return MarkRechecking
	case StatusFailed:
		return MarkUnavailable
	}
	s := strings.Join(strings.Fields(FormatValue(c.Value)), " ")
	if s == "" {
		return "-"
	}
	if r := []rune(s); len(r) > maxCellChars {
		s = string(r[:maxCellChars-3]) + "..."
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// DisplayTable renders at most maxRows rows as a markdown table. maxRows <= 0 means no cap.
func (t *Table) DisplayTable(maxRows int, excludeInternal bool) string {
	return t.DisplayRows(t.rows, maxRows, excludeInternal)
}

// DisplayRows renders the given rows (e.g. a ranked subset) in the table's field order.
func (t *Table) DisplayRows(rows []*Row, maxRows int, excludeInternal bool) string {
	if len(rows) == 0 || len(t.fields) == 0 {
		return "_No products in the comparison yet._"
	}
	names := t.FieldNames(excludeInternal)

	var b strings.Builder
	b.WriteString("|")
	for _, n := range names {
		def, _ := t.Field(n)
		b.WriteString(" " + strings.ReplaceAll(def.Label, "|", `\|`) + " |")
	}
	b.WriteString("\n|")
	for range names {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	shown := rows
	if maxRows > 0 && len(rows) > maxRows {
		shown = rows[:maxRows]
	}
	for _, row := range shown {
		b.WriteString("|")
		for _, n := range names {
			b.WriteString(" " + displayCell(row.Cells[n]) + " |")
		}
		b.WriteString("\n")
	}
	if len(shown) < len(rows) {
		fmt.Fprintf(&b, "\n_Showing %d of %d products. Export the table to see all of them._\n", len(shown), len(rows))
	}
	return b.String()
}

// Export serializes every row and field as CSV with labels as the header. Pending and
// failed cells export as empty values.
func (t *Table) Export(excludeInternal bool) (string, error) {
	names := t.FieldNames(excludeInternal)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(names))
	for i, n := range names {
		def, _ := t.Field(n)
		header[i] = def.Label
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.rows {
		record := make([]string, len(names))
		for i, n := range names {
			if c := row.Cells[n]; c != nil && (c.Status == StatusEnriched || c.Status == StatusFlagged) {
				record[i] = FormatValue(c.Value)
			}
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}
