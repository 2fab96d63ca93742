package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"copysensei/pkg/domain"
)

const migrateLockID int64 = 20240611

// GormStore implements Store using GORM. Postgres in production, any GORM
// dialector in tests.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a Postgres database and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn required")
	}
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens the given dialector and runs auto-migrations.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProfileModel{}, &ProjectModel{}, &DocumentModel{}, &ChatMessageModel{}, &CopyGenerationModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureUser inserts the profile when absent and returns the stored row.
// An existing profile keeps its balance.
func (s *GormStore) EnsureUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.User{}, err
	}
	stored, ok, err := s.GetUser(u.ID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return stored, nil
}

// GetUser returns a profile by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetCredits overwrites a balance.
func (s *GormStore) SetCredits(userID string, credits int) error {
	if credits < 0 {
		return fmt.Errorf("credits must be >= 0")
	}
	res := s.db.Model(&ProfileModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{"credits": credits, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddCredits adjusts a balance by delta and returns the new balance. A
// negative delta never takes the balance below zero.
func (s *GormStore) AddCredits(userID string, delta int) (int, error) {
	if delta < 0 {
		return s.ChargeCredits(userID, -delta)
	}
	var balance int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProfileModel{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"credits":    gorm.Expr("credits + ?", delta),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		var err error
		balance, err = readCredits(tx, userID)
		return err
	})
	return balance, err
}

// ChargeCredits conditionally decrements a balance and returns the new one.
func (s *GormStore) ChargeCredits(userID string, amount int) (int, error) {
	var balance int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = chargeCredits(tx, userID, amount)
		return err
	})
	return balance, err
}

// RecordBilledReply writes the assistant reply, the generation row and the
// credit decrement in one transaction.
func (s *GormStore) RecordBilledReply(userID string, reply domain.ChatMessage, gen domain.CopyGeneration, amount int) (int, error) {
	var balance int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		msgModel := messageToModel(reply)
		if err := tx.Create(&msgModel).Error; err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
		genModel := generationToModel(gen)
		if err := tx.Create(&genModel).Error; err != nil {
			return fmt.Errorf("insert generation: %w", err)
		}
		var err error
		balance, err = chargeCredits(tx, userID, amount)
		return err
	})
	return balance, err
}

func chargeCredits(tx *gorm.DB, userID string, amount int) (int, error) {
	if amount <= 0 {
		return readCredits(tx, userID)
	}
	res := tx.Model(&ProfileModel{}).
		Where("id = ? AND credits >= ?", userID, amount).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&ProfileModel{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, ErrUserNotFound
		}
		return 0, ErrInsufficientCredits
	}
	return readCredits(tx, userID)
}

func readCredits(tx *gorm.DB, userID string) (int, error) {
	var model ProfileModel
	if err := tx.Select("credits").First(&model, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return model.Credits, nil
}

// SaveProject stores or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "website_url", "tone_of_voice", "research_data", "strategy_brief", "custom_notes", "updated_at"}),
	}).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjectsByUser returns a user's projects ordered by created_at.
func (s *GormStore) ListProjectsByUser(userID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// SetResearch stores the research payload of a project.
func (s *GormStore) SetResearch(projectID, researchData string) error {
	res := s.db.Model(&ProjectModel{}).
		Where("id = ?", projectID).
		Updates(map[string]any{
			"research_data": encodeResearch(researchData),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteProject removes a project together with its documents, messages and generations.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&CopyGenerationModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChatMessageModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProjectModel{}, "id = ?", id).Error
	})
}

// SaveDocument inserts a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Create(&model).Error
}

// GetDocument retrieves one document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns a project's documents in upload order.
func (s *GormStore) ListDocuments(projectID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("project_id = ?", projectID).Order("uploaded_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// DeleteDocument removes one document.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// AppendMessage records a chat message.
func (s *GormStore) AppendMessage(msg domain.ChatMessage) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns the most recent messages of a project in chronological
// order. limit <= 0 returns the whole transcript.
func (s *GormStore) ListMessages(projectID string, limit int) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if limit <= 0 {
		if err := s.db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&models).Error; err != nil {
			return nil, err
		}
		msgs := make([]domain.ChatMessage, 0, len(models))
		for _, m := range models {
			msgs = append(msgs, messageFromModel(m))
		}
		return msgs, nil
	}
	if err := s.db.Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// AppendGeneration records a billed generation.
func (s *GormStore) AppendGeneration(g domain.CopyGeneration) error {
	model := generationToModel(g)
	return s.db.Create(&model).Error
}

// ListGenerations returns a project's generations in creation order.
func (s *GormStore) ListGenerations(projectID string) ([]domain.CopyGeneration, error) {
	var models []CopyGenerationModel
	if err := s.db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	gens := make([]domain.CopyGeneration, 0, len(models))
	for _, m := range models {
		gens = append(gens, generationFromModel(m))
	}
	return gens, nil
}

// encodeResearch keeps JSON payloads as-is and wraps free text as a JSON string.
func encodeResearch(raw string) datatypes.JSON {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return datatypes.JSON(raw)
	}
	wrapped, _ := json.Marshal(raw)
	return datatypes.JSON(wrapped)
}

func decodeResearch(data datatypes.JSON) string {
	if len(data) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text
	}
	return string(data)
}

func userToModel(u domain.User) ProfileModel {
	return ProfileModel{
		ID:        u.ID,
		Email:     u.Email,
		Credits:   u.Credits,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m ProfileModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:            p.ID,
		UserID:        p.UserID,
		Name:          p.Name,
		WebsiteURL:    p.WebsiteURL,
		ToneOfVoice:   string(p.Tone),
		ResearchData:  encodeResearch(p.ResearchData),
		StrategyBrief: p.StrategyBrief,
		CustomNotes:   p.CustomNotes,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:            m.ID,
		UserID:        m.UserID,
		Name:          m.Name,
		WebsiteURL:    m.WebsiteURL,
		Tone:          domain.ToneOfVoice(m.ToneOfVoice),
		ResearchData:  decodeResearch(m.ResearchData),
		StrategyBrief: m.StrategyBrief,
		CustomNotes:   m.CustomNotes,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		Filename:   d.Filename,
		Content:    d.Content,
		FileSize:   d.FileSize,
		StorageKey: d.StorageKey,
		UploadedAt: d.UploadedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		Filename:   m.Filename,
		Content:    m.Content,
		FileSize:   m.FileSize,
		StorageKey: m.StorageKey,
		UploadedAt: m.UploadedAt,
	}
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:          msg.ID,
		ProjectID:   msg.ProjectID,
		Role:        string(msg.Role),
		Content:     msg.Content,
		MessageType: string(msg.Kind),
		CreditsUsed: msg.CreditsUsed,
		CreatedAt:   msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Role:        domain.MessageRole(m.Role),
		Content:     m.Content,
		Kind:        domain.MessageKind(m.MessageType),
		CreditsUsed: m.CreditsUsed,
		CreatedAt:   m.CreatedAt,
	}
}

func generationToModel(g domain.CopyGeneration) CopyGenerationModel {
	return CopyGenerationModel{
		ID:            g.ID,
		ProjectID:     g.ProjectID,
		Prompt:        g.Prompt,
		GeneratedCopy: g.GeneratedCopy,
		CreditsUsed:   g.CreditsUsed,
		CreatedAt:     g.CreatedAt,
	}
}

func generationFromModel(m CopyGenerationModel) domain.CopyGeneration {
	return domain.CopyGeneration{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Prompt:        m.Prompt,
		GeneratedCopy: m.GeneratedCopy,
		CreditsUsed:   m.CreditsUsed,
		CreatedAt:     m.CreatedAt,
	}
}
