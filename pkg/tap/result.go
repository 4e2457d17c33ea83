package tap

import (
	"errors"
	"sync"
	"time"
)

// ResourceResult summarizes one resource over a run. Counts accumulate over
// every context loop of a child resource.
type ResourceResult struct {
	Name string

	// Loops is the number of pagination loops started.
	Loops int

	Pages   int
	Records int

	// Skipped records were dropped by the post-process hook.
	Skipped int

	// Dropped records failed schema conformance or lacked a primary key.
	Dropped int

	// Filtered records were below the replication lower bound.
	Filtered int

	Errors []error
}

// Failed reports whether any loop of the resource failed.
func (r *ResourceResult) Failed() bool {
	return len(r.Errors) > 0
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// Aborted holds the run-fatal error that stopped the walk, if any.
	Aborted error

	mu        sync.Mutex
	order     []string
	resources map[string]*ResourceResult
}

func newResult(runID string) *Result {
	return &Result{
		RunID:     runID,
		Started:   time.Now(),
		resources: make(map[string]*ResourceResult),
	}
}

func (r *Result) resource(name string) *ResourceResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[name]
	if !ok {
		res = &ResourceResult{Name: name}
		r.resources[name] = res
		r.order = append(r.order, name)
	}
	return res
}

// Resource returns the summary of name.
func (r *Result) Resource(name string) (*ResourceResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[name]
	return res, ok
}

// Resources returns the summaries in the order resources were first walked.
func (r *Result) Resources() []*ResourceResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ResourceResult, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.resources[name])
	}
	return out
}

// Failed reports whether the run aborted or any resource failed.
func (r *Result) Failed() bool {
	if r.Aborted != nil {
		return true
	}
	for _, res := range r.Resources() {
		if res.Failed() {
			return true
		}
	}
	return false
}

// Err joins the abort cause and every resource error.
func (r *Result) Err() error {
	var errs []error
	if r.Aborted != nil {
		errs = append(errs, r.Aborted)
	}
	for _, res := range r.Resources() {
		errs = append(errs, res.Errors...)
	}
	return errors.Join(errs...)
}
