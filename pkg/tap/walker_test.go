package tap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
	"github.com/Sternrassler/tap-searchstax/pkg/client"
	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/Sternrassler/tap-searchstax/pkg/schema"
	"github.com/Sternrassler/tap-searchstax/pkg/state"
	"github.com/Sternrassler/tap-searchstax/pkg/stream"
	"github.com/rs/zerolog"
)

const testBaseURL = "https://api.test/v2"

// fakeExecutor answers requests from a table keyed by path and encoded query.
type fakeExecutor struct {
	mu        sync.Mutex
	responses map[string]string
	errors    map[string]error
	calls     []client.Request
	onCall    func(req client.Request)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		responses: make(map[string]string),
		errors:    make(map[string]error),
	}
}

// on registers body for path with the given query ("" matches any query
// without an entry of its own).
func (f *fakeExecutor) on(path, query, body string) {
	f.responses[path+"?"+query] = body
}

func (f *fakeExecutor) fail(path string, err error) {
	f.errors[path] = err
}

func (f *fakeExecutor) Execute(ctx context.Context, req client.Request) (*client.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	path := strings.TrimPrefix(req.URL, testBaseURL)
	if err, ok := f.errors[path]; ok {
		return nil, err
	}
	if body, ok := f.responses[path+"?"+req.Params.Encode()]; ok {
		return &client.Response{StatusCode: 200, Body: []byte(body)}, nil
	}
	if body, ok := f.responses[path+"?"]; ok {
		return &client.Response{StatusCode: 200, Body: []byte(body)}, nil
	}
	return nil, &client.RequestError{StatusCode: 404, Method: "GET", URL: req.URL}
}

func (f *fakeExecutor) callsFor(path string) []client.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []client.Request
	for _, c := range f.calls {
		if strings.TrimPrefix(c.URL, testBaseURL) == path {
			out = append(out, c)
		}
	}
	return out
}

// memorySink collects everything a run emits.
type memorySink struct {
	schemas   []string
	records   map[string][]decode.Record
	states    []state.State
	recordErr error
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string][]decode.Record)}
}

func (s *memorySink) WriteSchema(def *stream.Definition) error {
	s.schemas = append(s.schemas, def.Name)
	return nil
}

func (s *memorySink) WriteRecord(resource string, rec decode.Record) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.records[resource] = append(s.records[resource], rec)
	return nil
}

func (s *memorySink) WriteState(st state.State) error {
	s.states = append(s.states, st)
	return nil
}

type memoryStore struct {
	saved []state.State
}

func (m *memoryStore) Load(ctx context.Context) (state.State, error) {
	return state.State{}, nil
}

func (m *memoryStore) Save(ctx context.Context, s state.State) error {
	m.saved = append(m.saved, s)
	return nil
}

func testDefinitions() []stream.Definition {
	return []stream.Definition{
		{
			Name:           "groups",
			Path:           "/groups",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "modified",
			Schema: schema.New(
				schema.Prop("id", schema.String),
				schema.Prop("modified", schema.DateTime),
			),
		},
		{
			Name:         "accounts",
			Path:         "/account",
			PrimaryKeys:  []string{"name"},
			RecordsPath:  "$.results[*]",
			NextPagePath: "$.next",
			Propagate:    map[string]string{KeyAccountName: "name"},
			Schema:       schema.New(schema.Prop("name", schema.String)),
		},
		{
			Name:                        "usage",
			Parent:                      "accounts",
			Path:                        "/account/{account_name}/usage/{year}/{month}",
			PrimaryKeys:                 []string{KeyAccountName, "date"},
			IgnoreParentReplicationKeys: true,
			Stamp:                       []string{KeyAccountName, KeyYear, KeyMonth},
			Schema: schema.New(
				schema.Prop(KeyAccountName, schema.String),
				schema.Prop(KeyYear, schema.Integer),
				schema.Prop(KeyMonth, schema.Integer),
				schema.Prop("date", schema.DateTime),
				schema.Prop("amount", schema.Number),
			),
		},
	}
}

type harness struct {
	exec    *fakeExecutor
	sink    *memorySink
	store   *memoryStore
	tracker *state.Tracker
	opts    Options
}

func newHarness(t *testing.T, defs []stream.Definition, initial state.State) *harness {
	t.Helper()
	h := &harness{
		exec:    newFakeExecutor(),
		sink:    newMemorySink(),
		store:   &memoryStore{},
		tracker: state.NewTracker(ReplicationKeys(defs), initial, time.Time{}),
	}
	h.opts = Options{
		Executor:    h.exec,
		Tracker:     h.tracker,
		Sink:        h.sink,
		Store:       h.store,
		Definitions: defs,
		BaseURL:     testBaseURL,
		RunValues:   map[string]any{KeyYear: int64(2024), KeyMonth: int64(3)},
		Logger:      zerolog.Nop(),
	}
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) (*Result, error) {
	t.Helper()
	w, err := New(h.opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w.Run(ctx)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})

	tests := []struct {
		name   string
		modify func(o *Options)
		want   string
	}{
		{"no executor", func(o *Options) { o.Executor = nil }, "executor is required"},
		{"no tracker", func(o *Options) { o.Tracker = nil }, "state tracker is required"},
		{"no sink", func(o *Options) { o.Sink = nil }, "sink is required"},
		{"relative base", func(o *Options) { o.BaseURL = "/v2" }, "base url must be absolute"},
		{"unknown stream", func(o *Options) { o.Selected = []string{"nope"} }, "unknown stream"},
		{"unknown parent", func(o *Options) {
			o.Definitions = append(testDefinitions(), stream.Definition{Name: "x", Path: "/x", Parent: "ghost"})
		}, "ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := h.opts
			tt.modify(&opts)
			_, err := New(opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRun_WalksGraph(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.exec.on("/groups", "", `[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]`)
	h.exec.on("/account", "", `{"results":[{"name":"acme"}],"next":"https://api.test/v2/account?page=2"}`)
	h.exec.on("/account", "page=2", `{"results":[{"name":"globex"}],"next":null}`)
	h.exec.on("/account/acme/usage/2024/3", "", `[{"date":"2024-03-01","amount":19.99}]`)
	h.exec.on("/account/globex/usage/2024/3", "", `[{"date":"2024-03-02","amount":0.1}]`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Failed() {
		t.Fatalf("Run() failed: %v", result.Err())
	}

	if got := strings.Join(h.sink.schemas, ","); got != "groups,accounts,usage" {
		t.Errorf("schemas = %s, want groups,accounts,usage", got)
	}
	if got := len(h.sink.records["accounts"]); got != 2 {
		t.Errorf("accounts records = %d, want 2", got)
	}

	usage := h.sink.records["usage"]
	if len(usage) != 2 {
		t.Fatalf("usage records = %d, want 2", len(usage))
	}
	first := usage[0]
	if first[KeyAccountName] != "acme" || first[KeyYear] != int64(2024) || first[KeyMonth] != int64(3) {
		t.Errorf("usage record not stamped with its context: %v", first)
	}
	if got := fmt.Sprint(first["amount"]); got != "19.99" {
		t.Errorf("amount = %s, want 19.99", got)
	}

	res, _ := result.Resource("usage")
	if res.Loops != 2 || res.Records != 2 {
		t.Errorf("usage loops = %d records = %d, want 2 and 2", res.Loops, res.Records)
	}
	res, _ = result.Resource("accounts")
	if res.Pages != 2 {
		t.Errorf("accounts pages = %d, want 2", res.Pages)
	}

	if len(h.sink.states) != 1 || len(h.store.saved) != 1 {
		t.Errorf("states = %d saved = %d, want 1 and 1", len(h.sink.states), len(h.store.saved))
	}
	bm := h.store.saved[0].Bookmarks["groups"]
	if bm.ReplicationKey != "modified" {
		t.Errorf("groups bookmark key = %q, want modified", bm.ReplicationKey)
	}
}

func TestRun_IncrementalQuery(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.opts.Selected = []string{"groups"}
	h.exec.on("/groups", "", `[]`)

	if _, err := h.run(t, context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := h.exec.callsFor("/groups")
	if len(calls) != 1 {
		t.Fatalf("groups calls = %d, want 1", len(calls))
	}
	if got := calls[0].Params.Encode(); got != "order_by=modified&sort=asc" {
		t.Errorf("query = %s, want order_by=modified&sort=asc", got)
	}
	if len(h.exec.callsFor("/account")) != 0 {
		t.Error("unselected root resource should not be walked")
	}
}

func TestRun_CycleGuard(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.opts.Selected = []string{"accounts"}
	h.exec.on("/account", "", `{"results":[{"name":"acme"}],"next":"https://api.test/v2/account?page=2"}`)
	h.exec.on("/account", "page=2", `{"results":[{"name":"globex"}],"next":"https://api.test/v2/account?page=2"}`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(h.exec.callsFor("/account")); got != 2 {
		t.Errorf("account calls = %d, want 2", got)
	}
	res, _ := result.Resource("accounts")
	if res.Records != 2 {
		t.Errorf("accounts records = %d, want 2", res.Records)
	}
}

func TestRun_SelectionWalksAncestors(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.opts.Selected = []string{"usage"}
	h.exec.on("/account", "", `{"results":[{"name":"acme"}]}`)
	h.exec.on("/account/acme/usage/2024/3", "", `[{"date":"2024-03-01"}]`)

	if _, err := h.run(t, context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := strings.Join(h.sink.schemas, ","); got != "usage" {
		t.Errorf("schemas = %s, want usage", got)
	}
	if len(h.sink.records["accounts"]) != 0 {
		t.Error("ancestor records should not be emitted")
	}
	if len(h.sink.records["usage"]) != 1 {
		t.Errorf("usage records = %d, want 1", len(h.sink.records["usage"]))
	}
	if len(h.exec.callsFor("/groups")) != 0 {
		t.Error("groups should not be walked")
	}
}

func TestRun_BookmarkFilterAndAdvance(t *testing.T) {
	initial := state.State{Bookmarks: map[string]state.Bookmark{
		"groups": {ReplicationKey: "modified", Value: "2024-03-02T00:00:00Z"},
	}}
	h := newHarness(t, testDefinitions(), initial)
	h.opts.Selected = []string{"groups"}
	h.exec.on("/groups", "", `[
		{"id":"old","modified":"2024-03-01T00:00:00Z"},
		{"id":"same","modified":"2024-03-02T00:00:00Z"},
		{"id":"new","modified":"2024-03-05T00:00:00Z"},
		{"id":"between","modified":"2024-03-03T00:00:00Z"}
	]`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var ids []string
	for _, rec := range h.sink.records["groups"] {
		ids = append(ids, rec["id"].(string))
	}
	if got := strings.Join(ids, ","); got != "same,new,between" {
		t.Errorf("emitted = %s, want same,new,between", got)
	}

	res, _ := result.Resource("groups")
	if res.Filtered != 1 {
		t.Errorf("filtered = %d, want 1", res.Filtered)
	}

	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	got := h.store.saved[0].Bookmarks["groups"].Value
	if ts, ok := got.(time.Time); !ok || !ts.Equal(want) {
		t.Errorf("bookmark = %v, want %v", got, want)
	}
}

func TestRun_LowerBoundParamInheritance(t *testing.T) {
	defs := []stream.Definition{
		{
			Name:            "parents",
			Path:            "/parents",
			PrimaryKeys:     []string{"id"},
			ReplicationKey:  "updated",
			LowerBoundParam: "since",
			Propagate:       map[string]string{"parent_id": "id"},
		},
		{Name: "inherits", Parent: "parents", Path: "/parents/{parent_id}/a", PrimaryKeys: []string{"id"}},
		{Name: "ignores", Parent: "parents", Path: "/parents/{parent_id}/b", PrimaryKeys: []string{"id"}, IgnoreParentReplicationKeys: true},
	}
	initial := state.State{Bookmarks: map[string]state.Bookmark{
		"parents": {ReplicationKey: "updated", Value: int64(10)},
	}}
	h := newHarness(t, defs, initial)
	h.exec.on("/parents", "", `[{"id":"p1","updated":12}]`)
	h.exec.on("/parents/p1/a", "", `[{"id":1}]`)
	h.exec.on("/parents/p1/b", "", `[{"id":2}]`)

	if _, err := h.run(t, context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := h.exec.callsFor("/parents")[0].Params.Get("since"); got != "10" {
		t.Errorf("parent since = %q, want 10", got)
	}
	if got := h.exec.callsFor("/parents/p1/a")[0].Params.Encode(); got != "since=10" {
		t.Errorf("inheriting child query = %q, want since=10", got)
	}
	if got := h.exec.callsFor("/parents/p1/b")[0].Params.Encode(); got != "" {
		t.Errorf("ignoring child query = %q, want empty", got)
	}
}

func TestRun_PostProcessSkip(t *testing.T) {
	defs := testDefinitions()
	defs[0].PostProcess = func(rec decode.Record, ctx stream.Context) decode.Record {
		if rec["id"] == "hidden" {
			return nil
		}
		rec["id"] = strings.ToUpper(rec["id"].(string))
		return rec
	}
	h := newHarness(t, defs, state.State{})
	h.opts.Selected = []string{"groups"}
	h.exec.on("/groups", "", `[
		{"id":"a","modified":"2024-03-01T00:00:00Z"},
		{"id":"hidden","modified":"2024-09-01T00:00:00Z"}
	]`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := h.sink.records["groups"]
	if len(recs) != 1 || recs[0]["id"] != "A" {
		t.Errorf("records = %v, want one record with id A", recs)
	}
	res, _ := result.Resource("groups")
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Skipped)
	}
	got := h.store.saved[0].Bookmarks["groups"].Value.(time.Time)
	if !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("bookmark = %v, skipped record must not advance it", got)
	}
}

func TestRun_DropsInvalidRecords(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.opts.Selected = []string{"groups"}
	h.exec.on("/groups", "", `[
		{"modified":"2024-03-01T00:00:00Z"},
		{"id":"bad","modified":"not a date"},
		{"id":"ok","modified":"2024-03-01T00:00:00Z","extra":true}
	]`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := h.sink.records["groups"]
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if _, ok := recs[0]["extra"]; ok {
		t.Error("undeclared field should be dropped")
	}
	res, _ := result.Resource("groups")
	if res.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", res.Dropped)
	}
}

func TestRun_ResourceErrorDoesNotStopSiblings(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.exec.on("/groups", "", `[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]`)
	h.exec.on("/account", "", `{"results":[{"name":"acme"},{"name":"globex"}]}`)
	h.exec.fail("/account/acme/usage/2024/3", fmt.Errorf("%w: boom", client.ErrRetryExhausted))
	h.exec.on("/account/globex/usage/2024/3", "", `[{"date":"2024-03-02"}]`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v, resource failures must not abort", err)
	}
	if !result.Failed() {
		t.Error("result should report the failed resource")
	}
	if !errors.Is(result.Err(), client.ErrRetryExhausted) {
		t.Errorf("result error = %v, want ErrRetryExhausted", result.Err())
	}
	if len(h.sink.records["usage"]) != 1 {
		t.Errorf("usage records = %d, want 1 from the healthy account", len(h.sink.records["usage"]))
	}
	if len(h.sink.records["groups"]) != 1 {
		t.Error("groups should be extracted")
	}
}

func TestRun_MalformedBodyFailsResource(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.exec.on("/groups", "", `{not json`)
	h.exec.on("/account", "", `{"results":[]}`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var decodeErr *decode.DecodeError
	if !errors.As(result.Err(), &decodeErr) {
		t.Errorf("result error = %v, want DecodeError", result.Err())
	}
	if len(h.exec.callsFor("/account")) != 1 {
		t.Error("accounts should still be walked")
	}
}

func TestRun_AuthErrorAborts(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.exec.on("/groups", "", `[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]`)
	h.exec.fail("/account", &auth.AuthError{StatusCode: 401, Message: "token rejected after re-authentication"})

	result, err := h.run(t, context.Background())
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Run() error = %v, want AuthError", err)
	}
	if result.Aborted == nil {
		t.Error("result should be marked aborted")
	}
	if len(h.sink.states) != 1 || len(h.store.saved) != 1 {
		t.Fatal("state must be emitted and saved after an abort")
	}
	if _, ok := h.store.saved[0].Bookmarks["groups"]; !ok {
		t.Error("bookmark of the completed resource should be kept")
	}
}

func TestRun_SinkErrorAborts(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	h.sink.recordErr = errors.New("broken pipe")
	h.exec.on("/groups", "", `[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]`)

	_, err := h.run(t, context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("Run() error = %v, want sink failure", err)
	}
	if len(h.exec.callsFor("/account")) != 0 {
		t.Error("walk should stop after a sink failure")
	}
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, testDefinitions(), state.State{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.exec.on("/groups", "", `[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]`)
	h.exec.on("/account", "", `{"results":[{"name":"acme"}]}`)
	h.exec.onCall = func(req client.Request) {
		if req.Resource == "groups" {
			cancel()
		}
	}

	_, err := h.run(t, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(h.exec.callsFor("/account")) != 0 {
		t.Error("no request should be issued after cancellation")
	}
	if len(h.store.saved) != 1 {
		t.Error("state must be saved after cancellation")
	}
}

func TestRun_BadPageKeepsEarlierBookmark(t *testing.T) {
	defs := []stream.Definition{{
		Name:           "groups",
		Path:           "/groups",
		PrimaryKeys:    []string{"id"},
		ReplicationKey: "modified",
		RecordsPath:    "$.results[*]",
		Schema: schema.New(
			schema.Prop("id", schema.String),
			schema.Prop("modified", schema.DateTime),
		),
	}}
	h := newHarness(t, defs, state.State{})
	h.exec.on("/groups", "order_by=modified&sort=asc",
		`{"next_page":"page=2","results":[{"id":"g1","modified":"2024-03-01T00:00:00Z"}]}`)
	h.exec.on("/groups", "order_by=modified&page=2&sort=asc",
		`{"results":[{"id":"g2","modified":"2024-09-01T00:00:00Z"},42]}`)

	result, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var decodeErr *decode.DecodeError
	if !errors.As(result.Err(), &decodeErr) {
		t.Errorf("result error = %v, want DecodeError", result.Err())
	}

	recs := h.sink.records["groups"]
	if len(recs) != 1 || recs[0]["id"] != "g1" {
		t.Errorf("records = %v, want only g1", recs)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := h.store.saved[0].Bookmarks["groups"].Value
	if ts, ok := got.(time.Time); !ok || !ts.Equal(want) {
		t.Errorf("bookmark = %v, want %v", got, want)
	}
}

func TestRun_CancelledChildrenHoldParentBookmark(t *testing.T) {
	defs := []stream.Definition{
		{
			Name:           "parents",
			Path:           "/parents",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "updated",
			Propagate:      map[string]string{"parent_id": "id"},
		},
		{Name: "kids", Parent: "parents", Path: "/parents/{parent_id}/kids", PrimaryKeys: []string{"id"}},
	}
	h := newHarness(t, defs, state.State{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.exec.on("/parents", "", `[{"id":"p1","updated":1},{"id":"p2","updated":2}]`)
	h.exec.on("/parents/p1/kids", "", `[{"id":1}]`)
	h.exec.on("/parents/p2/kids", "", `[{"id":2}]`)
	h.exec.onCall = func(req client.Request) {
		if strings.HasSuffix(req.URL, "/parents/p2/kids") {
			cancel()
		}
	}

	_, err := h.run(t, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(h.store.saved) != 1 {
		t.Fatal("state must be saved after cancellation")
	}
	got := h.store.saved[0].Bookmarks["parents"].Value
	if fmt.Sprint(got) != "1" {
		t.Errorf("parents bookmark = %v, want 1: p2 children did not finish", got)
	}
}

func TestBaseParams(t *testing.T) {
	w := &Walker{}
	d := &stream.Definition{Name: "r", ReplicationKey: "modified", LowerBoundParam: "since"}
	inherited := url.Values{"a": {"1"}}
	bound := lowerBound{value: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ok: true}

	params, filter := w.baseParams(d, bound, inherited)

	if got := params.Encode(); got != "a=1&order_by=modified&since=2024-03-01T00%3A00%3A00Z&sort=asc" {
		t.Errorf("params = %s", got)
	}
	if got := filter.Encode(); got != "a=1&since=2024-03-01T00%3A00%3A00Z" {
		t.Errorf("filter = %s", got)
	}
	inherited.Set("a", "2")
	if params.Get("a") != "1" {
		t.Error("params should not alias the inherited values")
	}
}
