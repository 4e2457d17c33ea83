// Package stream describes extractable resources and how they relate.
//
// A Definition is static: it names the endpoint template, the record and
// pagination paths, keys and the parent resource whose records drive it. A
// Context carries the values one concrete request loop is built from.
package stream

import (
	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/Sternrassler/tap-searchstax/pkg/schema"
)

// PostProcessFunc adjusts a record before it is conformed and emitted.
// Returning nil drops the record.
type PostProcessFunc func(rec decode.Record, ctx Context) decode.Record

// Definition declares one extractable resource.
type Definition struct {
	// Name identifies the resource (and its output stream).
	Name string

	// Path is the endpoint relative to the API root, with {placeholders}
	// resolved from the extraction context.
	Path string

	PrimaryKeys []string

	// ReplicationKey enables incremental extraction when set.
	ReplicationKey string

	// Parent names the resource whose records drive this one.
	Parent string

	// RecordsPath selects records in a page (default "$[*]").
	RecordsPath string

	// NextPagePath locates the pagination indicator (default "$.next_page").
	NextPagePath string

	// TokenParam carries a bare pagination token (default "page").
	TokenParam string

	// IgnoreParentReplicationKeys stops the parent's lower-bound filter
	// from being inherited.
	IgnoreParentReplicationKeys bool

	// Propagate maps child context keys to fields of this resource's records.
	Propagate map[string]string

	// Stamp lists context keys copied onto every record.
	Stamp []string

	// LowerBoundParam, when set, sends the replication lower bound upstream
	// as this query parameter.
	LowerBoundParam string

	Schema schema.Schema

	PostProcess PostProcessFunc
}

// IsRoot reports whether the resource has no parent.
func (d *Definition) IsRoot() bool {
	return d.Parent == ""
}

// Incremental reports whether the resource declares a replication key.
func (d *Definition) Incremental() bool {
	return d.ReplicationKey != ""
}

func (d *Definition) applyDefaults() {
	if d.RecordsPath == "" {
		d.RecordsPath = decode.DefaultRecordsPath
	}
	if d.NextPagePath == "" {
		d.NextPagePath = decode.DefaultNextPagePath
	}
	if d.TokenParam == "" {
		d.TokenParam = "page"
	}
}
