package tap

import (
	"strings"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
	"github.com/Sternrassler/tap-searchstax/pkg/schema"
	"github.com/Sternrassler/tap-searchstax/pkg/stream"
)

// DefaultBaseURL is the SearchStax REST API root.
const DefaultBaseURL = "https://app.searchstax.com/api/rest/v2"

// TokenURL returns the credential exchange endpoint under baseURL.
func TokenURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + auth.TokenPath
}

// Run value keys consumed by path templates.
const (
	KeyAccountName = "account_name"
	KeyYear        = "year"
	KeyMonth       = "month"
)

// Catalog returns the SearchStax resource definitions in emission order.
func Catalog() []stream.Definition {
	return []stream.Definition{
		{
			Name:           "groups",
			Path:           "/groups",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "modified",
			Schema: schema.New(
				schema.Prop("name", schema.String),
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
			Schema: schema.New(
				schema.Prop("name", schema.String),
				schema.Prop("trial", schema.Boolean),
				schema.Prop("created_at", schema.DateTime),
			),
		},
		{
			Name:         "deployments",
			Parent:       "accounts",
			Path:         "/account/{account_name}/deployment",
			PrimaryKeys:  []string{KeyAccountName, "uid"},
			RecordsPath:  "$.results[*]",
			NextPagePath: "$.next",
			Stamp:        []string{KeyAccountName},
			Schema: schema.New(
				schema.Prop(KeyAccountName, schema.String),
				schema.Prop("uid", schema.String),
				schema.Prop("name", schema.String),
				schema.Prop("application", schema.String),
				schema.Prop("application_version", schema.String),
				schema.Prop("tier", schema.String),
				schema.Prop("http_endpoint", schema.String),
				schema.Prop("status", schema.String),
				schema.Prop("provision_state", schema.String),
				schema.Prop("termination_lock", schema.Boolean),
				schema.Prop("plan_type", schema.String),
				schema.Prop("plan", schema.String),
				schema.Prop("is_master_slave", schema.Boolean),
				schema.Prop("cloud_provider", schema.String),
				schema.Prop("cloud_provider_id", schema.String),
				schema.Prop("region_id", schema.String),
				schema.Prop("num_additional_app_nodes", schema.Integer),
				schema.Prop("deployment_type", schema.String),
				schema.Prop("num_nodes_default", schema.Integer),
				schema.Prop("servers", schema.Array),
				schema.Prop("specifications", schema.Object),
				schema.Prop("date_created", schema.DateTime),
			),
		},
		{
			Name:                        "usage",
			Parent:                      "accounts",
			Path:                        "/account/{account_name}/usage/{year}/{month}",
			PrimaryKeys:                 []string{KeyAccountName, "deployment", "date"},
			IgnoreParentReplicationKeys: true,
			Stamp:                       []string{KeyAccountName, KeyYear, KeyMonth},
			Schema: schema.New(
				schema.Prop(KeyAccountName, schema.String),
				schema.Prop(KeyYear, schema.Integer),
				schema.Prop(KeyMonth, schema.Integer),
				schema.Prop("deployment", schema.String),
				schema.Prop("date", schema.DateTime),
				schema.Prop("usage_type", schema.String),
				schema.Prop("quantity", schema.Number),
				schema.Prop("unit", schema.String),
				schema.Prop("amount", schema.Number),
			),
		},
	}
}

// Discover renders defs as a Singer catalog document.
func Discover(defs []stream.Definition) map[string]any {
	streams := make([]any, 0, len(defs))
	for _, d := range defs {
		meta := map[string]any{
			"inclusion":                 "available",
			"selected":                  true,
			"table-key-properties":      append([]string{}, d.PrimaryKeys...),
			"forced-replication-method": "FULL_TABLE",
		}
		if d.ReplicationKey != "" {
			meta["forced-replication-method"] = "INCREMENTAL"
			meta["valid-replication-keys"] = []string{d.ReplicationKey}
		}
		if d.Parent != "" {
			meta["parent-tap-stream-id"] = d.Parent
		}

		streams = append(streams, map[string]any{
			"tap_stream_id":  d.Name,
			"stream":         d.Name,
			"schema":         d.Schema.JSONSchema(),
			"key_properties": append([]string{}, d.PrimaryKeys...),
			"metadata": []any{
				map[string]any{"breadcrumb": []string{}, "metadata": meta},
			},
		})
	}
	return map[string]any{"streams": streams}
}

// ReplicationKeys maps every incremental resource of defs to its key.
func ReplicationKeys(defs []stream.Definition) map[string]string {
	keys := make(map[string]string)
	for _, d := range defs {
		if d.ReplicationKey != "" {
			keys[d.Name] = d.ReplicationKey
		}
	}
	return keys
}
