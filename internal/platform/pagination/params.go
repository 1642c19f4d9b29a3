package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps the supported page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Cursor represents the Firestore pagination cursor payload.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Params bundles the pagination, date-range, and filter values extracted from
// a list request.
type Params struct {
	PageSize      int
	PageToken     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Filters       map[string][]string
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters names the query parameters whose comma-separated values
	// are collected into Params.Filters. Parameters not listed are ignored.
	AllowedFilters []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidDateRange = errors.New("pagination: invalid date range")
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// FromRequest parses the supported list query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params
// representation.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("page_size"), opts)
	if err != nil {
		return Params{}, err
	}

	params := Params{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(values.Get("page_token")),
	}

	after, err := parseTimeValue(values.Get("created_after"), "created_after")
	if err != nil {
		return Params{}, err
	}
	params.CreatedAfter = after

	before, err := parseTimeValue(values.Get("created_before"), "created_before")
	if err != nil {
		return Params{}, err
	}
	params.CreatedBefore = before

	if after != nil && before != nil && before.Before(*after) {
		return Params{}, fmt.Errorf("%w: created_before precedes created_after", ErrInvalidDateRange)
	}

	params.Filters = parseFilters(values, opts.AllowedFilters)
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}

	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: page_size must be an integer", ErrInvalidPageSize)
	}
	switch {
	case value <= 0:
		return defaultPageSize, nil
	case value > maxPageSize:
		return maxPageSize, nil
	default:
		return value, nil
	}
}

func parseTimeValue(raw, name string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	return nil, fmt.Errorf("%w: %s must be a valid RFC3339 timestamp", ErrInvalidDateRange, name)
}

// parseFilters collects the allowed comma-separated filter parameters, trimmed,
// lowercased, and deduplicated in first-seen order.
func parseFilters(values url.Values, allowed []string) map[string][]string {
	if len(allowed) == 0 {
		return nil
	}

	filters := make(map[string][]string)
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		parsed := normalizeFilterValues(values[name])
		if len(parsed) > 0 {
			filters[name] = parsed
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func normalizeFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			out = append(out, trimmed)
		}
	}
	return out
}
