package model

import (
	"errors"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrISOFormat     = errors.New("invalid ISO8601 duration")
)
