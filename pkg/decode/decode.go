// Package decode turns SearchStax response bodies into pages and record streams.
//
// Numbers are never decoded through float64: integral values become int64 and
// everything else becomes an exact decimal.Decimal, so monetary and usage
// figures survive the round trip digit for digit.
package decode

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	// DefaultRecordsPath selects every element of a top-level array.
	DefaultRecordsPath = "$[*]"

	// DefaultNextPagePath locates the pagination indicator.
	DefaultNextPagePath = "$.next_page"
)

// Record is one decoded record, keyed by field name.
type Record map[string]any

// DecodeError reports a malformed response body or an unexpected shape.
type DecodeError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("decode: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Page is one decoded response body together with its pagination indicator.
type Page struct {
	Body      any
	Indicator string
}

// ParsePage decodes body and extracts the pagination indicator found at
// nextPath. A missing or null indicator yields an empty string.
func ParsePage(body []byte, nextPath string) (*Page, error) {
	value, err := Parse(body)
	if err != nil {
		return nil, err
	}

	if nextPath == "" {
		nextPath = DefaultNextPagePath
	}

	page := &Page{Body: value}

	// A body with no place for an indicator (e.g. a bare array) is a last page.
	matches, err := Evaluate(nextPath, value)
	if err == nil && len(matches) > 0 {
		page.Indicator = indicatorString(matches[0])
	}
	return page, nil
}

// Records applies the record path expression to the page body. Every
// match must be a JSON object, otherwise the whole page is a *DecodeError.
// The returned stream must be consumed once.
func (p *Page) Records(recordsPath string) (*Stream, error) {
	if recordsPath == "" {
		recordsPath = DefaultRecordsPath
	}

	matches, err := Evaluate(recordsPath, p.Body)
	if err != nil {
		return nil, &DecodeError{Path: recordsPath, Err: err}
	}

	// A page is rejected as a whole so no record of a bad page is emitted.
	for i, m := range matches {
		if _, ok := m.(map[string]any); !ok {
			return nil, &DecodeError{
				Path: recordsPath,
				Err:  fmt.Errorf("record %d is %T, not an object", i, m),
			}
		}
	}
	return newStream(matches), nil
}

// Parse decodes a JSON document with exact numeric handling.
func Parse(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return normalize(value)
}

// normalize replaces every json.Number with int64 or decimal.Decimal.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return Number(t.String())
	case map[string]any:
		for k, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, item := range t {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}

// Number converts a JSON number literal into int64 when it is an integer
// that fits, and into an exact decimal otherwise.
func Number(literal string) (any, error) {
	if !strings.ContainsAny(literal, ".eE") {
		if i, err := strconv.ParseInt(literal, 10, 64); err == nil {
			return i, nil
		}
	}
	d, err := decimal.NewFromString(literal)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("number %q: %w", literal, err)}
	}
	return d, nil
}

func indicatorString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case decimal.Decimal:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
