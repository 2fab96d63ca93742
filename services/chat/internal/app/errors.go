package app

import (
	"errors"

	"copysensei/pkg/classify"
)

var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrUserNotFound        = errors.New("user not found")
	ErrProjectNotFound     = errors.New("project not found")
	ErrProjectForbidden    = errors.New("project forbidden")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrSessionBusy         = errors.New("a reply is still pending for this project")
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrGenerationFailed wraps any generate-copy failure: transport, non-2xx,
	// or an empty reply.
	ErrGenerationFailed = errors.New("copy generation failed")
	ErrResearchFailed   = errors.New("research fetch failed")
	ErrQueueDisabled    = errors.New("research queue not configured")
	ErrJobNotFound      = errors.New("research job not found")
	ErrStorageDisabled  = errors.New("object storage not configured")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// LowValueError rejects small talk; Advisory is meant for the user.
type LowValueError struct {
	Advisory string
}

func (e *LowValueError) Error() string { return "low-value chat: " + e.Advisory }

// ErrLowValueChat matches any *LowValueError through errors.Is.
var ErrLowValueChat = &LowValueError{Advisory: classify.LowValueAdvisory}

func (e *LowValueError) Is(target error) bool {
	_, ok := target.(*LowValueError)
	return ok
}
