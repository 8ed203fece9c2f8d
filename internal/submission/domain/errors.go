package domain

import "errors"

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageSize     = errors.New("invalid_page_size")
	ErrInvalidSortColumn   = errors.New("invalid_sort_column")
	ErrInvalidCursor       = errors.New("invalid_cursor")
	ErrNotFound            = errors.New("not_found")
	ErrForbidden           = errors.New("forbidden")
)
