package core

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Pagination struct {
	Page     int `json:"page" query:"page"`
	PageSize int `json:"page_size" query:"page_size"`
}

// Clean applies defaults & bounds.
func (p *Pagination) Clean() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) Limit() int {
	return p.PageSize
}

// Bounds returns the slice bounds of the page within a list of n items.
func (p Pagination) Bounds(n int) (start, end int) {
	start = p.Offset()
	if start > n {
		start = n
	}
	end = start + p.Limit()
	if end > n {
		end = n
	}
	return start, end
}
