// Package pagination walks page-numbered provider endpoints and accumulates
// their records, keeping partial progress when a page fails.
package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/crmhub/crmhub/internal/metrics"
)

// DefaultMaxPages caps a walk when the caller sets no limit.
const DefaultMaxPages = 200

// Page is one fetched page. TotalPages is the provider's end-of-data signal,
// zero when the provider does not report it.
type Page[T any] struct {
	Items      []T
	TotalPages int
}

// FetchFunc fetches page number page (1-based). Authorization retries are the
// fetcher's concern; an error returned here ends the walk.
type FetchFunc[T any] func(ctx context.Context, page, pageSize int) (Page[T], error)

// Result holds everything gathered, even when Err is set.
type Result[T any] struct {
	Items []T
	// Pages is the number of pages fetched successfully.
	Pages int
	// Truncated is set when the page cap stopped the walk.
	Truncated bool
	// Err is the page error that stopped the walk, if any.
	Err error
}

// Complete reports whether the walk reached the end of the data.
func (r Result[T]) Complete() bool {
	return r.Err == nil && !r.Truncated
}

type options struct {
	pageSize int
	maxPages int
	delay    time.Duration
	source   string
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures Aggregate.
type Option func(*options)

// WithPageSize sets the requested page size used for short-page detection.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithMaxPages caps the number of pages fetched.
func WithMaxPages(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPages = n
		}
	}
}

// WithDelay waits d between consecutive page requests.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithMetrics records each page under source.
func WithMetrics(m *metrics.Metrics, source string) Option {
	return func(o *options) {
		o.metrics = m
		o.source = source
	}
}

// WithSleep replaces the inter-page wait, for tests.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if f != nil {
			o.sleep = f
		}
	}
}

// Aggregate fetches pages 1..N in order until a page is shorter than the page
// size, the provider's TotalPages is reached, or the page cap is hit. On a
// page error it stops and returns the items gathered so far with the error.
func Aggregate[T any](ctx context.Context, fetch FetchFunc[T], opts ...Option) Result[T] {
	o := options{
		pageSize: 100,
		maxPages: DefaultMaxPages,
		source:   "unknown",
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var res Result[T]
	for page := 1; ; page++ {
		if page > o.maxPages {
			res.Truncated = true
			return res
		}
		if page > 1 && o.delay > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				res.Err = err
				return res
			}
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		p, err := fetch(ctx, page, o.pageSize)
		if err != nil {
			o.metrics.RecordPage(o.source, "error")
			res.Err = fmt.Errorf("page %d: %w", page, err)
			return res
		}
		o.metrics.RecordPage(o.source, "ok")

		res.Items = append(res.Items, p.Items...)
		res.Pages++

		if len(p.Items) < o.pageSize {
			return res
		}
		if p.TotalPages > 0 && page >= p.TotalPages {
			return res
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
