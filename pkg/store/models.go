package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the hosted schema.
type ProfileModel struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"index"`
	Credits   int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

type ProjectModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index"`
	Name          string `gorm:"not null"`
	WebsiteURL    string `gorm:"not null"`
	ToneOfVoice   string `gorm:"not null"`
	ResearchData  datatypes.JSON
	StrategyBrief string    `gorm:"type:text"`
	CustomNotes   string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string { return "projects" }

type DocumentModel struct {
	ID         string `gorm:"primaryKey"`
	ProjectID  string `gorm:"not null;index"`
	Filename   string `gorm:"not null"`
	Content    string `gorm:"type:text;not null"`
	FileSize   int64  `gorm:"not null"`
	StorageKey string
	UploadedAt time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

type ChatMessageModel struct {
	ID          string    `gorm:"primaryKey"`
	ProjectID   string    `gorm:"not null;index:idx_chat_messages_project_created,priority:1"`
	Role        string    `gorm:"not null"`
	Content     string    `gorm:"type:text;not null"`
	MessageType string    `gorm:"not null"`
	CreditsUsed int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chat_messages_project_created,priority:2"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

type CopyGenerationModel struct {
	ID            string    `gorm:"primaryKey"`
	ProjectID     string    `gorm:"not null;index"`
	Prompt        string    `gorm:"type:text;not null"`
	GeneratedCopy string    `gorm:"type:text;not null"`
	CreditsUsed   int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (CopyGenerationModel) TableName() string { return "copy_generations" }
