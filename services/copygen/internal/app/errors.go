package app

import "errors"

var (
	ErrInvalidRequest   = errors.New("prompt or messages required")
	ErrGenerationFailed = errors.New("copy generation failed")
)
