package tickets

import "fmt"

// Page holds offset/limit pagination state for a ticket listing. Count
// comes from the server envelope and is authoritative.
type Page struct {
	Count  int
	Limit  int
	Offset int
}

// TotalPages is ceil(count/limit), never less than one so an empty
// listing still renders as page 1 of 1.
func (p Page) TotalPages() int {
	if p.Limit <= 0 {
		return 1
	}
	pages := (p.Count + p.Limit - 1) / p.Limit
	if pages < 1 {
		return 1
	}
	return pages
}

// Current is the 1-based page number for the current offset.
func (p Page) Current() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// HasNext reports whether another page exists.
func (p Page) HasNext() bool {
	return p.Offset+p.Limit < p.Count
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool {
	return p.Offset > 0
}

// NextOffset is the offset of the following page.
func (p Page) NextOffset() int {
	return p.Offset + p.Limit
}

// PrevOffset is the offset of the preceding page, clamped at zero.
func (p Page) PrevOffset() int {
	if prev := p.Offset - p.Limit; prev > 0 {
		return prev
	}
	return 0
}

// Range returns the 1-based indices of the first and last item shown.
func (p Page) Range() (from, to int) {
	if p.Count == 0 {
		return 0, 0
	}
	to = p.Offset + p.Limit
	if to > p.Count {
		to = p.Count
	}
	return p.Offset + 1, to
}

// RangeText renders the "showing x-y of n" line, or the empty-state
// message when the listing has no items.
func (p Page) RangeText() string {
	if p.Count == 0 {
		return "no tickets found"
	}
	from, to := p.Range()
	return fmt.Sprintf("showing %d-%d of %d tickets", from, to, p.Count)
}
