// Package sink emits extracted data as newline-delimited Singer messages.
package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/Sternrassler/tap-searchstax/pkg/state"
	"github.com/Sternrassler/tap-searchstax/pkg/stream"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var recordsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "searchstax_records_written_total",
	Help: "Records emitted by resource",
}, []string{"resource"})

// Message types.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Sink receives the output of a run.
type Sink interface {
	WriteSchema(def *stream.Definition) error
	WriteRecord(resource string, rec decode.Record) error
	WriteState(s state.State) error
}

// Message is one Singer message.
type Message struct {
	Type               string   `json:"type"`
	Stream             string   `json:"stream,omitempty"`
	Record             any      `json:"record,omitempty"`
	TimeExtracted      string   `json:"time_extracted,omitempty"`
	Schema             any      `json:"schema,omitempty"`
	KeyProperties      []string `json:"key_properties,omitempty"`
	BookmarkProperties []string `json:"bookmark_properties,omitempty"`
	Value              any      `json:"value,omitempty"`
}

// SingerWriter writes messages to w, one JSON document per line.
type SingerWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewSingerWriter creates a writer on w (usually os.Stdout).
func NewSingerWriter(w io.Writer) *SingerWriter {
	return &SingerWriter{w: w, now: time.Now}
}

// WriteSchema emits the SCHEMA message of def.
func (s *SingerWriter) WriteSchema(def *stream.Definition) error {
	msg := Message{
		Type:          TypeSchema,
		Stream:        def.Name,
		Schema:        def.Schema.JSONSchema(),
		KeyProperties: append([]string{}, def.PrimaryKeys...),
	}
	if def.ReplicationKey != "" {
		msg.BookmarkProperties = []string{def.ReplicationKey}
	}
	return s.write(msg)
}

// WriteRecord emits one RECORD message.
func (s *SingerWriter) WriteRecord(resource string, rec decode.Record) error {
	err := s.write(Message{
		Type:          TypeRecord,
		Stream:        resource,
		Record:        encodeValue(map[string]any(rec)),
		TimeExtracted: s.now().UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		recordsWrittenTotal.WithLabelValues(resource).Inc()
	}
	return err
}

// WriteState emits a STATE message carrying the bookmarks.
func (s *SingerWriter) WriteState(st state.State) error {
	data, err := state.Encode(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.write(Message{Type: TypeState, Value: json.RawMessage(data)})
}

func (s *SingerWriter) write(msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}

// encodeValue prepares a record value for JSON: decimals become bare
// numbers with their exact digits, timestamps RFC3339Nano strings.
func encodeValue(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return json.Number(t.String())
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}
