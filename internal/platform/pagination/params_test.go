package pagination

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.CreatedAfter != nil || params.CreatedBefore != nil || params.Filters != nil {
		t.Fatalf("expected zero params, got %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		opts Options
		want int
	}{
		{name: "explicit value", raw: "35", want: 35},
		{name: "zero falls back to default", raw: "0", want: DefaultPageSize},
		{name: "negative falls back to default", raw: "-3", want: DefaultPageSize},
		{name: "clamped to max", raw: "500", want: DefaultMaxPageSize},
		{name: "custom bounds", raw: "80", opts: Options{DefaultPageSize: 10, MaxPageSize: 50}, want: 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{"page_size": []string{tc.raw}}
			params, err := Parse(values, tc.opts)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d, got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseRejectsNonIntegerPageSize(t *testing.T) {
	_, err := Parse(url.Values{"page_size": []string{"lots"}}, Options{})
	if !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestParseDateRange(t *testing.T) {
	values := url.Values{
		"created_after":  []string{"2026-07-01T00:00:00Z"},
		"created_before": []string{"2026-07-31T23:59:59Z"},
	}

	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.CreatedAfter == nil || !params.CreatedAfter.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_after %v", params.CreatedAfter)
	}
	if params.CreatedBefore == nil || !params.CreatedBefore.Equal(time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected created_before %v", params.CreatedBefore)
	}
}

func TestParseRejectsMalformedTimestamp(t *testing.T) {
	_, err := Parse(url.Values{"created_after": []string{"yesterday"}}, Options{})
	if !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestParseRejectsInvertedRange(t *testing.T) {
	values := url.Values{
		"created_after":  []string{"2026-07-31T00:00:00Z"},
		"created_before": []string{"2026-07-01T00:00:00Z"},
	}
	_, err := Parse(values, Options{})
	if !errors.Is(err, ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestParseFilters(t *testing.T) {
	values := url.Values{
		"status":   []string{"Pending,shipped", "pending"},
		"kind":     []string{"income"},
		"customer": []string{"ignored"},
	}

	params, err := Parse(values, Options{AllowedFilters: []string{"status", "kind", "concluded"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	expected := map[string][]string{
		"status": {"pending", "shipped"},
		"kind":   {"income"},
	}
	if !reflect.DeepEqual(params.Filters, expected) {
		t.Fatalf("expected filters %#v, got %#v", expected, params.Filters)
	}
}

func TestParseFiltersNilWhenNotConfigured(t *testing.T) {
	params, err := Parse(url.Values{"status": []string{"pending"}}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.Filters != nil {
		t.Fatalf("expected nil filters, got %#v", params.Filters)
	}
}
