package schema

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),         // YYYY-MM-DD
		regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),     // MM/DD/YYYY
		regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`),         // YYYY/MM/DD
		regexp.MustCompile(`^\d{1,2}-[A-Za-z]{3}-\d{4}$`), // DD-Mon-YYYY
	}
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2})?`), // ISO 8601
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}(:\d{2})?`), // SQL timestamp
	}
	urlPattern   = regexp.MustCompile(`^(https?|ftp)://[^\s/$.?#][^\s]*$`)
	digitPattern = regexp.MustCompile(`\d`)

	currencySymbols = map[string]string{
		"$": "USD",
		"€": "EUR",
		"£": "GBP",
		"¥": "JPY",
	}
)

// missingMarkers are strings that stand for an absent value in text inputs
var missingMarkers = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"NaN":  true,
	"null": true,
	"NULL": true,
}

// IsMissing reports whether v is an explicit missing marker. Non-finite
// floats count as missing.
func IsMissing(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return missingMarkers[strings.TrimSpace(t)]
	case float64:
		return math.IsNaN(t) || math.IsInf(t, 0)
	case float32:
		return math.IsNaN(float64(t)) || math.IsInf(float64(t), 0)
	case time.Time:
		return t.IsZero()
	default:
		return false
	}
}

// ToString converts a raw value to its text form without going through fmt
func ToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}

// toNumber converts Go numeric types and numeric strings. integral is true
// when the source was an integer type or an integer literal.
func toNumber(value interface{}) (f float64, integral bool, ok bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true, true
	case int8:
		return float64(v), true, true
	case int16:
		return float64(v), true, true
	case int32:
		return float64(v), true, true
	case int64:
		return float64(v), true, true
	case uint:
		return float64(v), true, true
	case uint8:
		return float64(v), true, true
	case uint16:
		return float64(v), true, true
	case uint32:
		return float64(v), true, true
	case uint64:
		return float64(v), true, true
	case float32:
		return float64(v), false, true
	case float64:
		return v, false, true
	case interface{ Int64() (int64, error) }:
		if i, err := v.Int64(); err == nil {
			return float64(i), true, true
		}
		if fv, ok := v.(interface{ Float64() (float64, error) }); ok {
			if f, err := fv.Float64(); err == nil {
				return f, false, true
			}
		}
		return 0, false, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(i), true, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
			return f, false, true
		}
		return 0, false, false
	default:
		return 0, false, false
	}
}

// parseCurrency accepts plain numbers and strings such as "$1,234.50" or
// "-€12". code is empty when no symbol was present.
func parseCurrency(value interface{}) (f float64, code string, ok bool) {
	if f, _, ok := toNumber(value); ok {
		return f, "", true
	}
	s, isString := value.(string)
	if !isString {
		return 0, "", false
	}
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	} else if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	for sym, c := range currencySymbols {
		if strings.HasPrefix(s, sym) {
			code = c
			s = strings.TrimPrefix(s, sym)
			break
		}
	}
	if code == "" {
		return 0, "", false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, "", false
	}
	if negative {
		f = -f
	}
	return f, code, true
}

// parseTime converts time.Time values and date-like strings. dateOnly is
// true when the value carries no clock part.
func parseTime(value interface{}) (t time.Time, dateOnly bool, ok bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, false
		}
		return v, isMidnight(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" || !digitPattern.MatchString(s) {
			return time.Time{}, false, false
		}
		if _, _, numeric := toNumber(s); numeric {
			return time.Time{}, false, false
		}
		for _, p := range datePatterns {
			if p.MatchString(s) {
				t, err := dateparse.ParseIn(s, time.UTC)
				if err != nil {
					return time.Time{}, false, false
				}
				return t, true, true
			}
		}
		for _, p := range timestampPatterns {
			if p.MatchString(s) {
				t, err := dateparse.ParseIn(s, time.UTC)
				if err != nil {
					return time.Time{}, false, false
				}
				return t, false, true
			}
		}
		t, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, isMidnight(t) && !strings.Contains(s, ":"), true
	default:
		return time.Time{}, false, false
	}
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// toDate truncates t to its calendar date in UTC
func toDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isURL(value interface{}) bool {
	s, ok := value.(string)
	return ok && urlPattern.MatchString(strings.TrimSpace(s))
}
