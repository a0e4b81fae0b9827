package domain

import "errors"

var (
	ErrInvalidCount = errors.New("invalid_count")
)
