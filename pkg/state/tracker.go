// Package state tracks replication bookmarks and persists them between runs.
//
// A bookmark is the greatest replication key value seen for a resource. It
// only ever moves forward within a run; the next run uses it as the lower
// bound for incremental extraction.
package state

import (
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/Sternrassler/tap-searchstax/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var bookmarkAdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "searchstax_bookmark_advances_total",
	Help: "Bookmark advances by resource",
}, []string{"resource"})

// Tracker holds the bookmarks of one run. It is safe for concurrent use.
type Tracker struct {
	keys      map[string]string
	startDate time.Time

	mu        sync.Mutex
	bookmarks map[string]any
}

// NewTracker creates a tracker for resources with the given replication
// keys (resource name -> key). Bookmarks of initial whose key no longer
// matches are ignored. startDate, when non-zero, is the lower bound of
// incremental resources without a bookmark.
func NewTracker(keys map[string]string, initial State, startDate time.Time) *Tracker {
	t := &Tracker{
		keys:      make(map[string]string, len(keys)),
		startDate: startDate,
		bookmarks: make(map[string]any),
	}
	for name, key := range keys {
		if key != "" {
			t.keys[name] = key
		}
	}

	for name, b := range initial.Bookmarks {
		if key, ok := t.keys[name]; ok && key == b.ReplicationKey && b.Value != nil {
			t.bookmarks[name] = Normalize(b.Value)
		}
	}
	return t
}

// LowerBound returns the value below which records of name are already
// extracted: the bookmark, else the start date for incremental resources.
func (t *Tracker) LowerBound(name string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.bookmarks[name]; ok {
		return v, true
	}
	if _, incremental := t.keys[name]; incremental && !t.startDate.IsZero() {
		return t.startDate.UTC(), true
	}
	return nil, false
}

// Advance raises the bookmark of name to rec's replication value when that
// value is greater. It reports whether the bookmark moved.
func (t *Tracker) Advance(name string, rec decode.Record) bool {
	key, ok := t.keys[name]
	if !ok {
		return false
	}
	raw, ok := rec[key]
	if !ok || raw == nil {
		return false
	}
	v := Normalize(raw)

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.bookmarks[name]; ok {
		if c, comparable := Compare(v, cur); !comparable || c <= 0 {
			return false
		}
	}
	t.bookmarks[name] = v
	bookmarkAdvancesTotal.WithLabelValues(name).Inc()
	return true
}

// Bookmarks returns a snapshot of the current bookmarks.
func (t *Tracker) Bookmarks() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := State{Bookmarks: make(map[string]Bookmark, len(t.bookmarks))}
	for name, v := range t.bookmarks {
		s.Bookmarks[name] = Bookmark{ReplicationKey: t.keys[name], Value: v}
	}
	return s
}

// Normalize converts a replication value to its comparable form: timestamps
// become time.Time, numbers int64 or decimal.Decimal.
func Normalize(v any) any {
	switch t := v.(type) {
	case string:
		if ts, err := schema.ParseTime(t); err == nil {
			return ts
		}
		return t
	case int:
		return int64(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// Compare orders two normalized replication values. The second result is
// false when the values have no common ordering.
func Compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case int64, decimal.Decimal:
		dx, _ := toDecimal(x)
		if dy, ok := toDecimal(b); ok {
			return dx.Cmp(dy), true
		}
	}
	return 0, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int64:
		return decimal.New(t, 0), true
	case decimal.Decimal:
		return t, true
	default:
		return decimal.Decimal{}, false
	}
}
