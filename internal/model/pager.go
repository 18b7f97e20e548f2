package model

const (
	// DefaultPageLimit is used when a pager does not specify a limit
	DefaultPageLimit = 30
	// MaxPageLimit caps every page regardless of the requested limit
	MaxPageLimit = 1000
)

// Pager carries paging state for scans and queries
type Pager struct {
	Page    int    // 1-based page number for queries
	Limit   int    // page size, capped at MaxPageLimit
	SortBy  string // field to sort query results by
	Desc    bool   // descending sort
	LastKey string // continuation key for store scans; empty starts from the beginning
	Count   int64  // total number of hits, filled by queries
}

// NewPager creates a pager with the given limit
func NewPager(limit int) *Pager {
	return &Pager{Page: 1, Limit: limit}
}

// EffectiveLimit returns the limit to apply to a page
func (p *Pager) EffectiveLimit() int {
	if p == nil || p.Limit <= 0 {
		return DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		return MaxPageLimit
	}
	return p.Limit
}

// Offset returns the number of hits to skip for the current page
func (p *Pager) Offset() int {
	if p == nil || p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.EffectiveLimit()
}
