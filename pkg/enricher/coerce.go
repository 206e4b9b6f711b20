package enricher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"shortlist/pkg/table"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Coerce converts a raw extracted value to the field's declared type. It reports false
// when nothing usable remains, such as "n/a" for a number.
func Coerce(v any, dt table.DataType) (any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		switch strings.ToLower(s) {
		case "", "null", "none", "n/a", "na", "unknown", "not available", "-":
			return nil, false
		}
		v = s
	}

	switch dt {
	case table.TypeNumber:
		return toNumber(v)
	case table.TypeBoolean:
		return toBool(v)
	case table.TypeList:
		return toList(v)
	case table.TypeStructured:
		return v, true
	default:
		s := table.FormatValue(v)
		return s, s != ""
	}
}

func toNumber(v any) (any, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		m := numberPattern.FindString(strings.ReplaceAll(x, ",", ""))
		if m == "" {
			return nil, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func toBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case string:
		lower := strings.ToLower(x)
		for _, yes := range []string{"yes", "true", "y", "1"} {
			if lower == yes || strings.HasPrefix(lower, yes+" ") || strings.HasPrefix(lower, yes+",") {
				return true, true
			}
		}
		for _, no := range []string{"no", "false", "n", "0"} {
			if lower == no || strings.HasPrefix(lower, no+" ") || strings.HasPrefix(lower, no+",") {
				return false, true
			}
		}
	}
	return nil, false
}

func toList(v any) (any, bool) {
	var out []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(x, func(r rune) bool { return r == ',' || r == ';' }) {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	default:
		out = []string{table.FormatValue(x)}
	}
	return out, len(out) > 0
}
