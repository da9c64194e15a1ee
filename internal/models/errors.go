package models

import "errors"

var (
	ErrValidation           = errors.New("validation failed")
	ErrSameStage            = errors.New("target stage equals current stage")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrUnauthorized         = errors.New("authorization required")
	ErrNotFound             = errors.New("row not found")
	ErrConflict             = errors.New("concurrent update")
)
