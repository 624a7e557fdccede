package shared

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// PageRequest is a client supplied page selector.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize clamps the request to page >= 1 and a bounded page size.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 || p.PerPage > maxPerPage {
		p.PerPage = defaultPerPage
	}
	return p
}

// Offset is the number of rows to skip. Call on a normalized request.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination describes the page req selected out of total rows.
func NewPagination(req PageRequest, total int) Pagination {
	req = req.Normalize()
	return Pagination{
		Page:       req.Page,
		PerPage:    req.PerPage,
		Total:      total,
		TotalPages: (total + req.PerPage - 1) / req.PerPage,
	}
}
