// Package tap walks the SearchStax resource graph: it pages through every
// root resource, runs each child resource once per parent record and feeds
// records and bookmarks to a sink.
package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
	"github.com/Sternrassler/tap-searchstax/pkg/client"
	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/Sternrassler/tap-searchstax/pkg/logging"
	"github.com/Sternrassler/tap-searchstax/pkg/pagination"
	"github.com/Sternrassler/tap-searchstax/pkg/sink"
	"github.com/Sternrassler/tap-searchstax/pkg/state"
	"github.com/Sternrassler/tap-searchstax/pkg/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for graph walking.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchstax_pages_total",
		Help: "Pages fetched by resource",
	}, []string{"resource"})

	recordsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchstax_records_dropped_total",
		Help: "Records not emitted by resource and reason",
	}, []string{"resource", "reason"})

	resourceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchstax_resource_errors_total",
		Help: "Failed resource loops by resource",
	}, []string{"resource"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchstax_run_duration_seconds",
		Help:    "Duration of a full extraction run",
		Buckets: []float64{1, 10, 60, 300, 900, 3600},
	})
)

// Executor performs API requests. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req client.Request) (*client.Response, error)
}

// Options configures a Walker.
type Options struct {
	Executor Executor
	Tracker  *state.Tracker
	Sink     sink.Sink

	// Store persists bookmarks after the walk. Optional.
	Store state.Store

	Definitions []stream.Definition

	// Selected names the resources to emit. Empty selects all. Ancestors
	// of a selected resource are walked without being emitted.
	Selected []string

	// BaseURL is the API root every definition path is appended to.
	BaseURL string

	// RunValues seed the extraction context of root resources.
	RunValues map[string]any

	Logger zerolog.Logger
}

// Walker runs one extraction over a resource graph.
type Walker struct {
	opts    Options
	graph   *stream.Graph
	baseURL string

	emit   map[string]bool
	active map[string]bool

	logger zerolog.Logger
	runID  string

	bounds map[string]lowerBound
	result *Result
}

type lowerBound struct {
	value any
	ok    bool
}

// sinkError marks a failure to hand output to the sink.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return "sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// New validates the options and the resource graph.
func New(opts Options) (*Walker, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("state tracker is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseURL)
	}

	graph, err := stream.NewGraph(opts.Definitions)
	if err != nil {
		return nil, err
	}

	emit, active, err := selection(graph, opts.Selected)
	if err != nil {
		return nil, err
	}

	logger, runID := logging.NewRunLogger(opts.Logger)

	return &Walker{
		opts:    opts,
		graph:   graph,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		emit:    emit,
		active:  active,
		logger:  logger,
		runID:   runID,
	}, nil
}

// selection resolves which resources are emitted and which are walked.
func selection(graph *stream.Graph, selected []string) (emit, active map[string]bool, err error) {
	emit = make(map[string]bool)
	active = make(map[string]bool)

	if len(selected) == 0 {
		for _, d := range graph.All() {
			emit[d.Name] = true
			active[d.Name] = true
		}
		return emit, active, nil
	}

	for _, name := range selected {
		if _, ok := graph.Get(name); !ok {
			return nil, nil, fmt.Errorf("%w: unknown stream %q", stream.ErrInvalidCatalog, name)
		}
		emit[name] = true
		active[name] = true
		for _, anc := range graph.Ancestors(name) {
			active[anc.Name] = true
		}
	}
	return emit, active, nil
}

// RunID identifies the run in logs.
func (w *Walker) RunID() string {
	return w.runID
}

// Run walks every active root resource in declaration order.
//
// Resource failures are collected in the Result and do not stop siblings.
// An authentication failure, a sink failure or cancellation of ctx aborts
// the walk and is returned as the error. Bookmarks are emitted and
// persisted in every case.
func (w *Walker) Run(ctx context.Context) (*Result, error) {
	w.result = newResult(w.runID)
	w.bounds = make(map[string]lowerBound)
	defer func() {
		w.result.Finished = time.Now()
		runDuration.Observe(w.result.Finished.Sub(w.result.Started).Seconds())
	}()

	w.logger.Info().
		Strs("streams", w.emitted()).
		Msg("Starting extraction run")

	var runErr error
	for _, d := range w.graph.All() {
		if !w.emit[d.Name] {
			continue
		}
		if err := w.opts.Sink.WriteSchema(d); err != nil {
			runErr = &sinkError{err: err}
			break
		}
	}

	if runErr == nil {
		root := stream.NewContext(w.opts.RunValues)
		for _, d := range w.graph.Roots() {
			if !w.active[d.Name] {
				continue
			}
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			if err := w.extract(ctx, d, root, nil); err != nil {
				runErr = err
				break
			}
		}
		if runErr == nil && ctx.Err() != nil {
			runErr = ctx.Err()
		}
	}

	if runErr != nil {
		w.result.Aborted = runErr
		w.logger.Error().Err(runErr).Msg("Extraction run aborted")
	}

	if err := w.finish(ctx); err != nil {
		w.result.Aborted = errors.Join(w.result.Aborted, err)
		runErr = errors.Join(runErr, err)
	}

	for _, res := range w.result.Resources() {
		event := w.logger.Info()
		if res.Failed() {
			event = w.logger.Warn().Int("errors", len(res.Errors))
		}
		event.
			Str("resource", res.Name).
			Int("records", res.Records).
			Int("pages", res.Pages).
			Int("loops", res.Loops).
			Int("skipped", res.Skipped).
			Int("dropped", res.Dropped).
			Int("filtered", res.Filtered).
			Msg("Resource summary")
	}

	return w.result, runErr
}

// finish emits and persists the bookmarks. It ignores cancellation of ctx so
// progress made before an abort is not lost.
func (w *Walker) finish(ctx context.Context) error {
	bookmarks := w.opts.Tracker.Bookmarks()

	var errs []error
	if err := w.opts.Sink.WriteState(bookmarks); err != nil {
		errs = append(errs, &sinkError{err: err})
	}
	if w.opts.Store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := w.opts.Store.Save(saveCtx, bookmarks); err != nil {
			errs = append(errs, fmt.Errorf("persist state: %w", err))
		} else {
			w.logger.Debug().Int("bookmarks", len(bookmarks.Bookmarks)).Msg("State persisted")
		}
	}
	return errors.Join(errs...)
}

// extract runs the full pagination loop of d for one context. It returns
// only run-fatal errors; resource failures are recorded in the result.
func (w *Walker) extract(ctx context.Context, d *stream.Definition, sctx stream.Context, inherited url.Values) error {
	res := w.result.resource(d.Name)
	res.Loops++

	logger := w.logger.With().
		Str("resource", d.Name).
		Str("context", sctx.String()).
		Logger()

	path, err := stream.ResolvePath(d.Path, sctx)
	if err != nil {
		return w.fail(ctx, res, logger, sctx, err)
	}

	bound := w.lowerBound(d)
	params, filter := w.baseParams(d, bound, inherited)

	logger.Debug().
		Str("path", path).
		Str("params", params.Encode()).
		Msg("Starting resource loop")

	p := pagination.New(d.TokenParam)
	p.Start()
	query := params

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := w.opts.Executor.Execute(ctx, client.Request{
			Resource: d.Name,
			URL:      w.baseURL + path,
			Params:   query,
		})
		if err != nil {
			return w.fail(ctx, res, logger, sctx, err)
		}

		page, err := decode.ParsePage(resp.Body, d.NextPagePath)
		if err != nil {
			return w.fail(ctx, res, logger, sctx, err)
		}
		records, err := page.Records(d.RecordsPath)
		if err != nil {
			return w.fail(ctx, res, logger, sctx, err)
		}

		res.Pages++
		pagesTotal.WithLabelValues(d.Name).Inc()

		for {
			rec, err := records.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return w.fail(ctx, res, logger, sctx, err)
			}
			if err := w.handleRecord(ctx, d, sctx, rec, bound, filter, res, logger); err != nil {
				return err
			}
		}

		next, more := p.Next(page, params)
		if !more {
			break
		}
		p.Fetching()
		query = next
	}

	logger.Debug().
		Int("pages", p.Pages()).
		Msg("Resource loop complete")
	return nil
}

// handleRecord runs the per-record pipeline and the child loops of rec.
func (w *Walker) handleRecord(
	ctx context.Context,
	d *stream.Definition,
	sctx stream.Context,
	rec decode.Record,
	bound lowerBound,
	filter url.Values,
	res *ResourceResult,
	logger zerolog.Logger,
) error {
	for _, key := range d.Stamp {
		if v, ok := sctx.Get(key); ok {
			rec[key] = v
		}
	}

	if d.PostProcess != nil {
		rec = d.PostProcess(rec, sctx)
		if rec == nil {
			res.Skipped++
			recordsDroppedTotal.WithLabelValues(d.Name, "skipped").Inc()
			return nil
		}
	}

	// Children read propagated fields before conformance drops undeclared ones.
	raw := rec

	conformed, err := d.Schema.Conform(rec)
	if err != nil {
		res.Dropped++
		recordsDroppedTotal.WithLabelValues(d.Name, "schema").Inc()
		logger.Warn().Err(err).Msg("Dropping record that does not match the schema")
		return nil
	}

	for _, pk := range d.PrimaryKeys {
		if v, ok := conformed[pk]; !ok || v == nil {
			res.Dropped++
			recordsDroppedTotal.WithLabelValues(d.Name, "primary_key").Inc()
			logger.Warn().Str("primary_key", pk).Msg("Dropping record without primary key")
			return nil
		}
	}

	if d.Incremental() && bound.ok {
		if v, ok := conformed[d.ReplicationKey]; ok && v != nil {
			if c, comparable := state.Compare(state.Normalize(v), bound.value); comparable && c < 0 {
				res.Filtered++
				recordsDroppedTotal.WithLabelValues(d.Name, "below_bookmark").Inc()
				return nil
			}
		}
	}

	children := w.activeChildren(d)
	// Once ctx is done the children of rec would be skipped, so rec is left
	// for the next run instead of moving the bookmark past it.
	if len(children) > 0 && ctx.Err() != nil {
		return nil
	}

	if w.emit[d.Name] {
		if err := w.opts.Sink.WriteRecord(d.Name, conformed); err != nil {
			return &sinkError{err: err}
		}
		res.Records++
	}

	for _, child := range children {
		if ctx.Err() != nil {
			break
		}

		childCtx := sctx
		for key, field := range d.Propagate {
			if v, ok := raw[field]; ok && v != nil {
				childCtx = childCtx.With(key, v)
			}
		}

		childFilter := filter
		if child.IgnoreParentReplicationKeys {
			childFilter = nil
		}

		if err := w.extract(ctx, child, childCtx, childFilter); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}

	// The bookmark passes rec only after all of its children were walked.
	if w.emit[d.Name] && (len(children) == 0 || ctx.Err() == nil) {
		w.opts.Tracker.Advance(d.Name, conformed)
	}
	return nil
}

// activeChildren returns the children of d walked in this run.
func (w *Walker) activeChildren(d *stream.Definition) []*stream.Definition {
	var out []*stream.Definition
	for _, child := range w.graph.Children(d.Name) {
		if w.active[child.Name] {
			out = append(out, child)
		}
	}
	return out
}

// lowerBound returns the bound of d, snapshotted at its first use in the run.
func (w *Walker) lowerBound(d *stream.Definition) lowerBound {
	if b, ok := w.bounds[d.Name]; ok {
		return b
	}
	var b lowerBound
	if d.Incremental() {
		b.value, b.ok = w.opts.Tracker.LowerBound(d.Name)
	}
	w.bounds[d.Name] = b
	return b
}

// baseParams builds the first-page query of d and the lower-bound filter
// its children inherit.
func (w *Walker) baseParams(d *stream.Definition, bound lowerBound, inherited url.Values) (params, filter url.Values) {
	params = url.Values{}
	filter = url.Values{}

	for k, vs := range inherited {
		params[k] = append([]string(nil), vs...)
		filter[k] = append([]string(nil), vs...)
	}

	if d.Incremental() {
		params.Set("sort", "asc")
		params.Set("order_by", d.ReplicationKey)

		if d.LowerBoundParam != "" && bound.ok {
			v := stream.FormatValue(bound.value)
			params.Set(d.LowerBoundParam, v)
			filter.Set(d.LowerBoundParam, v)
		}
	}
	return params, filter
}

// fail records a resource error, or returns err when it is run-fatal.
func (w *Walker) fail(ctx context.Context, res *ResourceResult, logger zerolog.Logger, sctx stream.Context, err error) error {
	if isFatal(ctx, err) {
		return err
	}

	resourceErrorsTotal.WithLabelValues(res.Name).Inc()
	res.Errors = append(res.Errors, fmt.Errorf("%s %s: %w", res.Name, sctx, err))
	logger.Error().Err(err).Msg("Resource failed")
	return nil
}

func (w *Walker) emitted() []string {
	var names []string
	for _, d := range w.graph.All() {
		if w.emit[d.Name] {
			names = append(names, d.Name)
		}
	}
	return names
}

// isFatal reports whether err must stop the whole run. Request timeouts
// are resource failures; only cancellation of the run context is fatal.
func isFatal(ctx context.Context, err error) bool {
	var authErr *auth.AuthError
	var sinkErr *sinkError
	return errors.As(err, &authErr) || errors.As(err, &sinkErr) || ctx.Err() != nil
}
