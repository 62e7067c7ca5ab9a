package pagination

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	// DefaultPageSize is used when the request does not specify a page size.
	DefaultPageSize = 10
	// MaxPageSize is the largest page size a caller may request.
	MaxPageSize = 100
)

// ParamError reports which pagination parameter was rejected.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string { return e.Param + " " + e.Reason }

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// DefaultParams returns sensible pagination defaults.
func DefaultParams() Params {
	return Params{
		Page:     1,
		PageSize: DefaultPageSize,
		Offset:   0,
	}
}

// New builds Params for the given page and size. Both must be positive and
// size must not exceed MaxPageSize.
func New(page, pageSize int) (Params, error) {
	if page < 1 {
		return Params{}, &ParamError{Param: "page", Reason: fmt.Sprintf("must be >= 1, got %d", page)}
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Params{}, &ParamError{Param: "page_size", Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxPageSize, pageSize)}
	}
	return Params{Page: page, PageSize: pageSize, Offset: (page - 1) * pageSize}, nil
}

// FromRequest extracts pagination parameters from an HTTP request. Absent
// parameters fall back to the defaults; present but malformed or out of range
// parameters are reported as a *ParamError.
func FromRequest(r *http.Request) (Params, error) {
	p := DefaultParams()
	q := r.URL.Query()

	if page := q.Get("page"); page != "" {
		v, err := strconv.Atoi(page)
		if err != nil {
			return Params{}, &ParamError{Param: "page", Reason: "must be an integer"}
		}
		p.Page = v
	}

	if size := q.Get("page_size"); size != "" {
		v, err := strconv.Atoi(size)
		if err != nil {
			return Params{}, &ParamError{Param: "page_size", Reason: "must be an integer"}
		}
		p.PageSize = v
	}

	return New(p.Page, p.PageSize)
}

// Result wraps a paginated response.
type Result[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult creates a paginated result.
func NewResult[T any](items []T, total int, params Params) Result[T] {
	if items == nil {
		items = []T{}
	}

	totalPages := total / params.PageSize
	if total%params.PageSize > 0 {
		totalPages++
	}

	return Result[T]{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}
