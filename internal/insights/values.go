package insights

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numRe      = regexp.MustCompile(`^[\s\+\-]?(?:\d+\.?\d*|\.\d+)(?:[eE][\+\-]?\d+)?\s*$`)
	isoDateRe  = regexp.MustCompile(`^\s*\d{4}-\d{2}-\d{2}(\s+\d{2}:\d{2}(:\d{2})?)?\s*$`)
	euSlashRe  = regexp.MustCompile(`^\s*\d{2}/\d{2}/\d{4}\s*$`) // 31/12/2026
	usDashRe   = regexp.MustCompile(`^\s*\d{2}-\d{2}-\d{4}\s*$`) // 12-31-2026 (ambiguous but common)
	dateHints  = []string{"date", "time", "timestamp", "datetime"}
	catDtypes  = []string{"object", "bool", "category", "string", "varchar", "text", "char"}
	currencies = []string{"€", "$", "£"}
)

// Date format families recognized in preview values.
const (
	familyISO     = "ISO"
	familyEUSlash = "EU_SLASH"
	familyUSDash  = "US_DASH"
	familyISOLike = "ISO_LIKE"
	familyUnknown = "UNKNOWN"
)

// toFloatLike parses a value into a float in a tolerant way: thousands
// separators are removed and common currency/percent symbols stripped.
// Returns false for empty, non-numeric and non-finite input.
func toFloatLike(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return toFloatLike(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return toFloatLike(f)
	}

	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return 0, false
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "%", "")
	for _, c := range currencies {
		s = strings.ReplaceAll(s, c, "")
	}

	if !numRe.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// isDateLikeName reports whether a column name hints at date/time content.
func isDateLikeName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, k := range dateHints {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// isCategoricalDtype covers both pandas-style dtypes ("object", "bool") and
// database types ("varchar", "text").
func isCategoricalDtype(dtype string) bool {
	d := strings.ToLower(dtype)
	for _, k := range catDtypes {
		if strings.Contains(d, k) {
			return true
		}
	}
	return false
}

// dateFamily classifies a date-ish string into a format family so mixed
// formats can be detected without full parsing.
func dateFamily(v interface{}) string {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return ""
	}

	if isoDateRe.MatchString(s) {
		return familyISO
	}
	if euSlashRe.MatchString(s) {
		return familyEUSlash
	}
	if usDashRe.MatchString(s) {
		return familyUSDash
	}

	// Conservative fallback: only ISO-ish shapes, to avoid false positives.
	if _, ok := parseISO(s); ok {
		return familyISOLike
	}
	return familyUnknown
}

// tryParseDateTime attempts ISO 8601 first, then dd/mm/yyyy, then mm-dd-yyyy.
// Naive timestamps are interpreted as UTC.
func tryParseDateTime(v interface{}) (time.Time, bool) {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := parseISO(s); ok {
		return t, true
	}
	if t, err := time.ParseInLocation("02/01/2006", s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("01-02-2006", s, time.UTC); err == nil {
		return t, true
	}

	return time.Time{}, false
}

func parseISO(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// canonicalRow renders a preview row as a stable JSON string for duplicate
// detection. encoding/json sorts map keys, so equal rows always collide.
func canonicalRow(row map[string]interface{}) string {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(data)
}

// stringify renders any JSON-safe preview value as the string a human would
// have typed, avoiding Go's %v float artifacts for integral values.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isBlank reports whether a preview value is null or whitespace-only.
func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	return strings.TrimSpace(stringify(v)) == ""
}
