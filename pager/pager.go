// Package pager serves suites in creation order, one bounded page at a time.
//
// Cursors are suite ids resolved to the suite's immutable creation sequence,
// so deleting or updating suites never shifts the pages after a cursor.
package pager

import (
	"context"

	"passlog/store"
)

// SuiteSource is the part of the store the pager reads from.
type SuiteSource interface {
	SuiteSeq(ctx context.Context, id string) (int64, error)
	ListSuitesAfter(ctx context.Context, afterSeq int64, limit int, includeDeleted bool) ([]*store.Suite, error)
}

// Page is one slice of the suite listing.
type Page struct {
	More   bool           `json:"more"`
	Suites []*store.Suite `json:"suites"`
}

// Options tune a single page request.
type Options struct {
	// Limit overrides the default page size; it is capped at MaxSize.
	Limit          int
	IncludeDeleted bool
}

// Pager pages over a SuiteSource.
type Pager struct {
	Source  SuiteSource
	Size    int
	MaxSize int
}

// New returns a pager with the given default and maximum page sizes.
func New(src SuiteSource, size, maxSize int) *Pager {
	return &Pager{Source: src, Size: size, MaxSize: maxSize}
}

// FirstPage returns the earliest suites.
func (p *Pager) FirstPage(ctx context.Context, opts Options) (*Page, error) {
	return p.fetch(ctx, 0, opts)
}

// PageAfter returns the suites created strictly after the cursor suite. The
// cursor stays valid after the suite it names is soft-deleted.
func (p *Pager) PageAfter(ctx context.Context, cursorID string, opts Options) (*Page, error) {
	seq, err := p.Source.SuiteSeq(ctx, cursorID)
	if err != nil {
		return nil, err
	}
	return p.fetch(ctx, seq, opts)
}

func (p *Pager) fetch(ctx context.Context, afterSeq int64, opts Options) (*Page, error) {
	size := p.size(opts.Limit)
	suites, err := p.Source.ListSuitesAfter(ctx, afterSeq, size+1, opts.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	page := &Page{Suites: suites}
	if len(suites) > size {
		page.More = true
		page.Suites = suites[:size]
	}
	if page.Suites == nil {
		page.Suites = []*store.Suite{}
	}
	return page, nil
}

func (p *Pager) size(limit int) int {
	size := p.Size
	if limit > 0 {
		size = limit
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		size = p.MaxSize
	}
	if size < 1 {
		size = 1
	}
	return size
}
