package notionsync

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return string(raw)
}

func TestBuildersOmitEmptyValues(t *testing.T) {
	cases := map[string]*Property{
		"rich_text":    RichText(""),
		"title":        Title(""),
		"url":          URL(""),
		"select":       Select(""),
		"multi_select": MultiSelect([]string{"", ""}),
		"multi_nil":    MultiSelect(nil),
		"date":         Date(""),
		"number":       Number(7, false),
	}
	for name, got := range cases {
		if got != nil {
			t.Fatalf("%s: expected nil property for empty input, got %+v", name, got)
		}
	}
}

func TestNumberKeepsZero(t *testing.T) {
	got := Number(0, true)
	if got == nil {
		t.Fatalf("expected zero to be written")
	}
	if wire := mustJSON(t, got); wire != `{"number":0}` {
		t.Fatalf("unexpected wire shape %s", wire)
	}
}

func TestWireShapes(t *testing.T) {
	cases := []struct {
		name string
		prop *Property
		want string
	}{
		{"rich_text", RichText("org/repo"), `{"rich_text":[{"text":{"content":"org/repo"}}]}`},
		{"title", Title("Fix it"), `{"title":[{"text":{"content":"Fix it"}}]}`},
		{"url", URL("https://github.com/org/repo/issues/1"), `{"url":"https://github.com/org/repo/issues/1"}`},
		{"select", Select("open"), `{"select":{"name":"open"}}`},
		{"multi_select", MultiSelect([]string{"bug", "", "bug", "p1"}), `{"multi_select":[{"name":"bug"},{"name":"bug"},{"name":"p1"}]}`},
		{"date", Date("2024-01-02T03:04:05Z"), `{"date":{"start":"2024-01-02T03:04:05Z"}}`},
		{"number", Number(42.5, true), `{"number":42.5}`},
	}
	for _, tc := range cases {
		if got := mustJSON(t, tc.prop); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestIDPropertyAlwaysWritten(t *testing.T) {
	cases := []struct {
		typ  PropertyType
		want string
	}{
		{PropertyRichText, `{"rich_text":[]}`},
		{PropertyTitle, `{"title":[]}`},
		{PropertyURL, `{"url":null}`},
		{PropertySelect, `{"select":null}`},
		{PropertyNumber, `{"number":null}`},
	}
	for _, tc := range cases {
		prop, err := IDProperty(tc.typ, "")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.typ, err)
		}
		if got := mustJSON(t, prop); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.typ, tc.want, got)
		}
	}

	prop, err := IDProperty(PropertyNumber, "17")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := mustJSON(t, prop); got != `{"number":17}` {
		t.Fatalf("expected numeric id, got %s", got)
	}
	if _, err := IDProperty(PropertyNumber, "I_kw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-numeric id, got %v", err)
	}
}

func TestEqualsFilterFollowsIDType(t *testing.T) {
	filter, err := EqualsFilter("GitHub ID", PropertyNumber, "42")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := mustJSON(t, filter); got != `{"number":{"equals":42},"property":"GitHub ID"}` {
		t.Fatalf("unexpected number filter %s", got)
	}

	filter, err = EqualsFilter("GitHub ID", "", "I_1")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := mustJSON(t, filter); got != `{"property":"GitHub ID","rich_text":{"equals":"I_1"}}` {
		t.Fatalf("unexpected default filter %s", got)
	}

	filter, _ = EqualsFilter("Link", PropertyURL, "https://x")
	if !filter.Matches(*URL("https://x")) {
		t.Fatalf("expected url filter to match")
	}
	if filter.Matches(*RichText("https://x")) {
		t.Fatalf("expected type mismatch to fail the filter")
	}
}

func TestParseIDPropertyType(t *testing.T) {
	if got, err := ParseIDPropertyType(""); err != nil || got != PropertyRichText {
		t.Fatalf("expected rich_text default, got %q %v", got, err)
	}
	if got, err := ParseIDPropertyType(" Number "); err != nil || got != PropertyNumber {
		t.Fatalf("expected number, got %q %v", got, err)
	}
	if _, err := ParseIDPropertyType("multi_select"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected multi_select to be rejected, got %v", err)
	}
}
