package stream

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Context is the immutable set of values a resource's requests are built
// from: run-level values overlaid with fields propagated from a parent
// record. The zero value is an empty context.
type Context struct {
	values map[string]any
}

// NewContext copies values into a new context.
func NewContext(values map[string]any) Context {
	c := Context{values: make(map[string]any, len(values))}
	for k, v := range values {
		c.values[k] = v
	}
	return c
}

// With returns a copy of c with key set to value.
func (c Context) With(key string, value any) Context {
	next := Context{values: make(map[string]any, len(c.values)+1)}
	for k, v := range c.values {
		next.values[k] = v
	}
	next.values[key] = value
	return next
}

// Get returns the value stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of values.
func (c Context) Len() int {
	return len(c.values)
}

// Keys returns the context keys in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the context for logs.
func (c Context) String() string {
	if len(c.values) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range c.Keys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(c.values[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// FormatValue renders a context or record value as URL and log text.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
