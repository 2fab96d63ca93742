package domain

import (
	"strings"
	"time"
)

type ToneOfVoice string

const (
	ToneProfessional  ToneOfVoice = "professional"
	ToneCasual        ToneOfVoice = "casual"
	ToneFriendly      ToneOfVoice = "friendly"
	ToneAuthoritative ToneOfVoice = "authoritative"
	TonePlayful       ToneOfVoice = "playful"
)

// Tones lists every accepted tone of voice in display order.
var Tones = []ToneOfVoice{ToneProfessional, ToneCasual, ToneFriendly, ToneAuthoritative, TonePlayful}

// ParseTone normalizes raw input into a known tone. Empty input maps to
// professional; unknown values report ok=false.
func ParseTone(raw string) (ToneOfVoice, bool) {
	value := ToneOfVoice(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return ToneProfessional, true
	}
	for _, tone := range Tones {
		if tone == value {
			return tone, true
		}
	}
	return "", false
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type MessageKind string

const (
	KindChat           MessageKind = "chat"
	KindCopyGeneration MessageKind = "copy_generation"
	KindDatabaseUpdate MessageKind = "database_update"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Project struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	Name          string      `json:"name"`
	WebsiteURL    string      `json:"websiteUrl"`
	Tone          ToneOfVoice `json:"toneOfVoice"`
	ResearchData  string      `json:"researchData,omitempty"`
	StrategyBrief string      `json:"strategyBrief,omitempty"`
	CustomNotes   string      `json:"customNotes"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

type Document struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Filename   string    `json:"filename"`
	Content    string    `json:"content"`
	FileSize   int64     `json:"fileSize"`
	StorageKey string    `json:"-"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ChatMessage struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"projectId"`
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"messageType"`
	CreditsUsed int         `json:"creditsUsed"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// CopyGeneration is the audit row written for every billed generation.
type CopyGeneration struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Prompt        string    `json:"prompt"`
	GeneratedCopy string    `json:"generatedCopy"`
	CreditsUsed   int       `json:"creditsUsed"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ProjectUpdate carries the mutable project fields. Nil pointers are left untouched.
type ProjectUpdate struct {
	Name          *string      `json:"name,omitempty"`
	Tone          *ToneOfVoice `json:"toneOfVoice,omitempty"`
	CustomNotes   *string      `json:"customNotes,omitempty"`
	StrategyBrief *string      `json:"strategyBrief,omitempty"`
	ResearchData  *string      `json:"researchData,omitempty"`
}
