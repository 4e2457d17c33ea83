package decode

import "io"

// Stream yields the records of one page. It is finite and cannot be
// rewound: once Next has returned io.EOF, it keeps doing so.
type Stream struct {
	items []any
	pos   int
	err   error
}

func newStream(items []any) *Stream {
	return &Stream{items: items}
}

// Next returns the next record, or io.EOF once the page is exhausted.
func (s *Stream) Next() (Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.pos >= len(s.items) {
		s.err = io.EOF
		s.items = nil
		return nil, s.err
	}

	item := s.items[s.pos]
	s.items[s.pos] = nil
	s.pos++

	// Page.Records admits objects only.
	return Record(item.(map[string]any)), nil
}
