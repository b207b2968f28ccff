package commission

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var validate = validator.New()

// PageRequest selects a window of execution logs.
type PageRequest struct {
	Limit  int `validate:"gte=1,lte=100"`
	Offset int `validate:"gte=0"`
}

// Validate returns ErrInvalidPagination when Limit or Offset is out of range.
func (p PageRequest) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPagination, err)
	}
	return nil
}

// Pagination is the metadata returned alongside a page.
type Pagination struct {
	Total           int
	Limit           int
	Offset          int
	CurrentPage     int
	TotalPages      int
	HasNextPage     bool
	HasPreviousPage bool
}

// NewPagination computes page metadata. req must already be valid.
func NewPagination(total int, req PageRequest) Pagination {
	totalPages := (total + req.Limit - 1) / req.Limit
	return Pagination{
		Total:           total,
		Limit:           req.Limit,
		Offset:          req.Offset,
		CurrentPage:     req.Offset/req.Limit + 1,
		TotalPages:      totalPages,
		HasNextPage:     req.Offset+req.Limit < total,
		HasPreviousPage: req.Offset > 0,
	}
}
