package store

import (
	"errors"

	"copysensei/pkg/domain"
)

var (
	// ErrInsufficientCredits is returned when a charge would take a balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrUserNotFound is returned by credit operations on an unknown profile.
	ErrUserNotFound = errors.New("user not found")
)

// Store defines persistence for profiles, projects, documents, chat messages
// and copy generations.
type Store interface {
	// profiles
	EnsureUser(domain.User) (domain.User, error)
	GetUser(id string) (domain.User, bool, error)
	SetCredits(userID string, credits int) error
	AddCredits(userID string, delta int) (int, error)
	ChargeCredits(userID string, amount int) (int, error)

	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjectsByUser(userID string) ([]domain.Project, error)
	SetResearch(projectID, researchData string) error
	DeleteProject(id string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments(projectID string) ([]domain.Document, error)
	DeleteDocument(id string) error

	// chat
	AppendMessage(domain.ChatMessage) error
	ListMessages(projectID string, limit int) ([]domain.ChatMessage, error)

	// generations
	AppendGeneration(domain.CopyGeneration) error
	ListGenerations(projectID string) ([]domain.CopyGeneration, error)
}

// BillingRecorder is an optional capability of stores that can write a billed
// assistant reply, its generation row and the credit decrement atomically.
// It returns the balance after the charge.
type BillingRecorder interface {
	RecordBilledReply(userID string, reply domain.ChatMessage, gen domain.CopyGeneration, amount int) (int, error)
}
