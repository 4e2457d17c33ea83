package pagination

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
)

// DefaultTokenParam receives bare continuation tokens such as a page number.
const DefaultTokenParam = "page"

// State is a paginator state.
type State int

const (
	// StateInit means no request has been issued yet.
	StateInit State = iota
	// StateFetching means a page request is in flight.
	StateFetching
	// StateMore means another page is available.
	StateMore
	// StateDone means pagination is complete.
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateFetching:
		return "FETCHING"
	case StateMore:
		return "MORE"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Paginator derives the next page's query parameters from each page's
// indicator. One Paginator drives exactly one pagination loop.
type Paginator struct {
	tokenParam string
	state      State
	last       string
	pages      int
}

// New creates a paginator. An empty tokenParam selects DefaultTokenParam.
func New(tokenParam string) *Paginator {
	if tokenParam == "" {
		tokenParam = DefaultTokenParam
	}
	return &Paginator{tokenParam: tokenParam, state: StateInit}
}

// State returns the current state.
func (p *Paginator) State() State {
	return p.state
}

// Pages returns how many pages have been handed to Next.
func (p *Paginator) Pages() int {
	return p.pages
}

// Start moves INIT to FETCHING for the first, cursor-less request.
func (p *Paginator) Start() {
	if p.state == StateInit {
		p.state = StateFetching
	}
}

// Fetching moves MORE to FETCHING when the next request is issued.
func (p *Paginator) Fetching() {
	if p.state == StateMore {
		p.state = StateFetching
	}
}

// Next inspects a fetched page. It returns the parameters of the next
// request and true (state MORE), or nil and false (state DONE) when the
// indicator is empty or repeats the previous page's indicator.
//
// The returned parameters are base overlaid with the values carried by the
// indicator; on conflicts the indicator wins.
func (p *Paginator) Next(page *decode.Page, base url.Values) (url.Values, bool) {
	if p.state == StateDone {
		return nil, false
	}
	p.pages++

	indicator := ""
	if page != nil {
		indicator = page.Indicator
	}
	if indicator == "" || indicator == p.last {
		p.state = StateDone
		return nil, false
	}
	p.last = indicator

	cursor := ParseIndicator(indicator, p.tokenParam)
	if len(cursor) == 0 {
		p.state = StateDone
		return nil, false
	}

	p.state = StateMore
	return Merge(base, cursor), true
}

// ParseIndicator turns a pagination indicator into query values. A full or
// relative URL contributes its query component, a string containing "=" is
// read as a query string and anything else is bound to tokenParam.
func ParseIndicator(indicator, tokenParam string) url.Values {
	indicator = strings.TrimSpace(indicator)
	if indicator == "" {
		return nil
	}

	if isLink(indicator) {
		u, err := url.Parse(indicator)
		if err != nil {
			return nil
		}
		values, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return nil
		}
		return values
	}

	if strings.Contains(indicator, "=") {
		values, err := url.ParseQuery(indicator)
		if err != nil {
			return nil
		}
		return values
	}

	return url.Values{tokenParam: []string{indicator}}
}

// isLink reports whether indicator is an absolute or relative URL, or a
// bare "?query".
func isLink(indicator string) bool {
	if strings.HasPrefix(indicator, "/") || strings.Contains(indicator, "?") {
		return true
	}
	u, err := url.Parse(indicator)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Merge copies base and overlays every key of cursor onto the copy.
func Merge(base, cursor url.Values) url.Values {
	merged := make(url.Values, len(base)+len(cursor))
	for k, v := range base {
		merged[k] = append([]string(nil), v...)
	}
	for k, v := range cursor {
		merged[k] = append([]string(nil), v...)
	}
	return merged
}
