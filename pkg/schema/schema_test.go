package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var usageSchema = New(
	Prop("account_name", String),
	Prop("year", Integer),
	Prop("amount", Number),
	Prop("active", Boolean),
	Prop("date", DateTime),
	Prop("meta", Object),
	Prop("tags", Array),
)

func TestConform_Conversions(t *testing.T) {
	rec := decode.Record{
		"account_name": "acme",
		"year":         mustDecimal("2024"),
		"amount":       int64(12),
		"active":       "true",
		"date":         "2024-03-01",
		"meta":         map[string]any{"k": "v"},
		"tags":         []any{"a"},
		"undeclared":   "dropped",
	}

	got, err := usageSchema.Conform(rec)
	if err != nil {
		t.Fatalf("Conform() error = %v", err)
	}

	if _, ok := got["undeclared"]; ok {
		t.Error("undeclared field should be dropped")
	}
	if got["year"] != int64(2024) {
		t.Errorf("year = %#v, want int64(2024)", got["year"])
	}
	if d, ok := got["amount"].(decimal.Decimal); !ok || d.String() != "12" {
		t.Errorf("amount = %#v, want decimal 12", got["amount"])
	}
	if got["active"] != true {
		t.Errorf("active = %#v, want true", got["active"])
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if ts, ok := got["date"].(time.Time); !ok || !ts.Equal(want) {
		t.Errorf("date = %#v, want %v", got["date"], want)
	}
	if len(got) != 7 {
		t.Errorf("len = %d, want 7", len(got))
	}
}

func TestConform_DecimalPreserved(t *testing.T) {
	rec := decode.Record{"amount": mustDecimal("19.99")}

	got, err := usageSchema.Conform(rec)
	if err != nil {
		t.Fatalf("Conform() error = %v", err)
	}
	if d := got["amount"].(decimal.Decimal); d.String() != "19.99" {
		t.Errorf("amount = %s, want 19.99", d)
	}
}

func TestConform_NullAndMissing(t *testing.T) {
	got, err := usageSchema.Conform(decode.Record{"amount": nil})
	if err != nil {
		t.Fatalf("Conform() error = %v", err)
	}
	if v, ok := got["amount"]; !ok || v != nil {
		t.Errorf("amount = %#v, want explicit nil", v)
	}
	if _, ok := got["year"]; ok {
		t.Error("missing field should stay missing")
	}
}

func TestConform_Failures(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"fractional integer", "year", mustDecimal("2024.5")},
		{"non numeric integer", "year", "twenty"},
		{"bad number", "amount", "1,5"},
		{"bad boolean", "active", "maybe"},
		{"bad timestamp", "date", "yesterday"},
		{"object from string", "meta", "{}"},
		{"array from map", "tags", map[string]any{}},
		{"string from object", "account_name", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usageSchema.Conform(decode.Record{tt.field: tt.value})
			var coerceErr *CoercionError
			if !errors.As(err, &coerceErr) {
				t.Fatalf("Conform() error = %v, want *CoercionError", err)
			}
			if coerceErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", coerceErr.Field, tt.field)
			}
		})
	}
}

func TestConform_EmptySchemaPassesThrough(t *testing.T) {
	rec := decode.Record{"anything": int64(1)}
	got, err := Schema{}.Conform(rec)
	if err != nil {
		t.Fatalf("Conform() error = %v", err)
	}
	if got["anything"] != int64(1) {
		t.Errorf("record changed: %v", got)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00.123456+02:00", time.Date(2024, 3, 1, 8, 0, 0, 123456000, time.UTC)},
		{"2024-03-01T10:00:00.5", time.Date(2024, 3, 1, 10, 0, 0, 500000000, time.UTC)},
		{"2024-03-01 10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if err != nil {
				t.Fatalf("ParseTime() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	js := New(Prop("modified", DateTime), Prop("id", Integer)).JSONSchema()

	props := js["properties"].(map[string]any)
	modified := props["modified"].(map[string]any)
	if modified["format"] != "date-time" {
		t.Errorf("modified format = %v", modified["format"])
	}
	id := props["id"].(map[string]any)
	if types := id["type"].([]string); len(types) != 2 || types[1] != "integer" {
		t.Errorf("id type = %v", id["type"])
	}
	if _, ok := js["additionalProperties"]; ok {
		t.Error("declared schema should not allow additional properties")
	}
}
