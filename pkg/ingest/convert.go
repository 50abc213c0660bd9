package ingest

import (
	"strconv"
	"strings"
	"time"
)

// Layouts HQ uses when exporting datetime cells. Each also accepts a
// missing fractional part.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
}

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05.999999"
)

// ParseDate interprets a date cell exported by HQ. Empty and NaN cells are
// null. Strings longer than 10 characters are parsed as a full datetime,
// shorter ones as a date-only value; both normalize to ISO text. Anything
// unparseable passes through unchanged so one bad cell cannot fail a whole
// ingest.
func ParseDate(cell string) interface{} {
	if cell == "" || cell == "NaN" {
		return nil
	}
	if len(cell) > 10 {
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, cell); err == nil {
				return t.Format(datetimeLayout)
			}
		}
		return cell
	}
	if t, err := time.Parse(dateLayout, cell); err == nil {
		return t.Format(dateLayout)
	}
	return cell
}

// ConvertToArray parses the list-literal string HQ emits for array-typed
// cells, e.g. `['a', 'b']` or `('a', 'b')`. Tuples normalize to lists. A
// parse failure, an empty literal or a bare `[None]` all yield an empty
// slice; the function never fails and never returns nil.
func ConvertToArray(raw string) []string {
	s := strings.TrimSpace(raw)
	if len(s) < 2 {
		return []string{}
	}
	first, last := s[0], s[len(s)-1]
	if !(first == '[' && last == ']') && !(first == '(' && last == ')') {
		return []string{}
	}

	inner := strings.TrimSpace(s[1 : len(s)-1])
	out := []string{}
	if inner == "" {
		return out
	}

	elems, ok := splitListLiteral(inner)
	if !ok {
		return []string{}
	}
	for _, elem := range elems {
		value, isNone, ok := parseListElement(elem)
		if !ok {
			return []string{}
		}
		if isNone {
			continue
		}
		out = append(out, value)
	}
	return out
}

// splitListLiteral splits the body of a list literal on top-level commas,
// honoring single- and double-quoted elements with backslash escapes
func splitListLiteral(s string) ([]string, bool) {
	var elems []string
	var buf strings.Builder
	var quote byte
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			buf.WriteByte(c)
			escaped = false
		case quote != 0:
			if c == '\\' {
				buf.WriteByte(c)
				escaped = true
			} else {
				buf.WriteByte(c)
				if c == quote {
					quote = 0
				}
			}
		case c == '\'' || c == '"':
			quote = c
			buf.WriteByte(c)
		case c == ',':
			elems = append(elems, strings.TrimSpace(buf.String()))
			buf.Reset()
		case c == '[' || c == ']' || c == '(' || c == ')':
			// nested structures are not valid array cells
			return nil, false
		default:
			buf.WriteByte(c)
		}
	}
	if quote != 0 || escaped {
		return nil, false
	}

	last := strings.TrimSpace(buf.String())
	if last != "" {
		elems = append(elems, last)
	} else if len(elems) == 0 {
		return nil, false
	}
	// a trailing comma, as in ('a',), leaves an empty final token; drop it
	return elems, true
}

func parseListElement(elem string) (value string, isNone, ok bool) {
	if elem == "None" {
		return "", true, true
	}
	if len(elem) >= 2 {
		if q := elem[0]; (q == '\'' || q == '"') && elem[len(elem)-1] == q {
			return unescapeQuoted(elem[1 : len(elem)-1]), false, true
		}
	}
	if elem == "True" || elem == "False" {
		return elem, false, true
	}
	if _, err := strconv.ParseFloat(elem, 64); err == nil {
		return elem, false, true
	}
	return "", false, false
}

func unescapeQuoted(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var buf strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			buf.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		buf.WriteByte(c)
	}
	return buf.String()
}
