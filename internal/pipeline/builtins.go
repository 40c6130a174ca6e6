// internal/pipeline/builtins.go
package pipeline

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var builtins = map[string]Func{
	"identity":   identity,
	"trim":       stringFunc(strings.TrimSpace),
	"parseInt":   parseInt,
	"parseFloat": parseFloat,
	"floor":      floor,
	"max":        maxOf,
	"lowercase":  stringFunc(cases.Lower(language.Und).String),
	"uppercase":  stringFunc(cases.Upper(language.Und).String),
	"title":      stringFunc(cases.Title(language.Und).String),
	"normalize":  stringFunc(normalize),
	"stripTags":  stringFunc(stripTags),
	"number":     number,
}

var (
	leadingFloatRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	leadingIntRe   = regexp.MustCompile(`^[+-]?\d+`)
	leadingHexRe   = regexp.MustCompile(`^[+-]?0[xX][0-9a-fA-F]+`)
	anyNumberRe    = regexp.MustCompile(`[+-]?(\d+\.?\d*|\.\d+)`)
	spaceRe        = regexp.MustCompile(`\s+`)

	strictPolicy = bluemonday.StrictPolicy()
)

func identity(v any) (any, error) { return v, nil }

// stringFunc lifts a string function into a transform. Numbers are
// formatted first so chained transforms keep working.
func stringFunc(f func(string) string) Func {
	return func(v any) (any, error) {
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return f(s), nil
	}
}

// parseInt reads the leading integer of the value, ignoring leading
// whitespace. A value without one yields nil.
func parseInt(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if m := leadingHexRe.FindString(s); m != "" {
		neg := strings.HasPrefix(m, "-")
		digits := strings.TrimLeft(m, "+-")[2:]
		n, err := strconv.ParseInt(digits, 16, 64)
		if err != nil {
			return nil, nil
		}
		if neg {
			n = -n
		}
		return float64(n), nil
	}
	m := leadingIntRe.FindString(s)
	if m == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil, nil
	}
	return f, nil
}

// parseFloat reads the leading decimal number of the value, so
// "4.5 star rating" yields 4.5. A value without one yields nil.
func parseFloat(v any) (any, error) {
	if f, ok := v.(float64); ok {
		return f, nil
	}
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	m := leadingFloatRe.FindString(strings.TrimSpace(s))
	if m == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil, nil
	}
	return f, nil
}

func floor(v any) (any, error) {
	f, ok := toNumber(v)
	if !ok {
		return nil, nil
	}
	return math.Floor(f), nil
}

// maxOf returns the largest number in a list, or the value itself as a
// number when given a scalar.
func maxOf(v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		f, ok := toNumber(v)
		if !ok {
			return nil, nil
		}
		return f, nil
	}
	if len(list) == 0 {
		return nil, nil
	}
	best := math.Inf(-1)
	for _, e := range list {
		f, ok := toNumber(e)
		if !ok {
			return nil, nil
		}
		best = math.Max(best, f)
	}
	return best, nil
}

// number returns the first number anywhere in the value, after removing
// thousands separators.
func number(v any) (any, error) {
	s, err := asString(v)
	if err != nil {
		return nil, err
	}
	m := anyNumberRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil, nil
	}
	return f, nil
}

func normalize(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(norm.NFC.String(s), " "))
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// toNumber converts a value the way a numeric context would: the whole
// trimmed string must be a number.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}
