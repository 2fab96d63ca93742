package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"copysensei/internal/util"
	"copysensei/pkg/docparse"
	"copysensei/pkg/domain"
	"copysensei/pkg/storage"
)

const (
	maxProjectNameLen = 120
	maxDocumentBytes  = 10 << 20

	welcomeMessage = "Project created! Add documents or generate your first copy."
)

// CreateProject validates and stores a new project, makes it the current one
// and queues website research when a queue is configured.
func (a *App) CreateProject(ctx context.Context, userID, name, websiteURL, tone string) (domain.Project, error) {
	user, err := a.resolveUser(userID)
	if err != nil {
		return domain.Project{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	if len(name) > maxProjectNameLen {
		return domain.Project{}, invalid(fmt.Sprintf("project name must be at most %d characters", maxProjectNameLen))
	}
	site, err := normalizeWebsite(websiteURL)
	if err != nil {
		return domain.Project{}, err
	}
	parsedTone, ok := domain.ParseTone(tone)
	if !ok {
		return domain.Project{}, invalid("unknown tone of voice: " + tone)
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:         util.NewID(),
		UserID:     user.ID,
		Name:       name,
		WebsiteURL: site,
		Tone:       parsedTone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveProject(project); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("user_id", user.ID, "project_id", project.ID)
	a.cacheProject(logger, project)
	if err := a.cache.SetCurrentProject(user.ID, project.ID); err != nil {
		logger.Warn("cache: set current project failed", "err", err)
	}
	a.appendSystemMessage(logger, user.ID, project.ID, welcomeMessage)

	if a.queue != nil && a.research != nil {
		job, err := a.queue.Enqueue(ctx, project.ID, user.ID)
		if err != nil {
			logger.Warn("enqueue research failed", "err", err)
		} else {
			logger.Info("research queued", "job_id", job.ID)
		}
	}
	return project, nil
}

// ListProjects returns the user's projects.
func (a *App) ListProjects(userID string) ([]domain.Project, error) {
	if _, err := a.resolveUser(userID); err != nil {
		return nil, err
	}
	return a.loadProjects(userID)
}

// loadProjects serves the cached list once it has been copied in full from
// the store, and copies it otherwise.
func (a *App) loadProjects(userID string) ([]domain.Project, error) {
	hydrated, err := a.cache.ProjectsHydrated(userID)
	if err != nil {
		slog.Warn("cache: read projects failed", "user_id", userID, "err", err)
	}
	if hydrated {
		cached, err := a.cache.ListProjects(userID)
		if err == nil {
			return cached, nil
		}
		slog.Warn("cache: list projects failed", "user_id", userID, "err", err)
	}
	projects, err := a.store.ListProjectsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	if err := a.cache.SaveProjects(userID, projects); err != nil {
		slog.Warn("cache: save projects failed", "user_id", userID, "err", err)
	}
	return projects, nil
}

// cacheProject mirrors a project the store already holds. An unhydrated list
// is copied in full instead so it never looks complete with one entry.
func (a *App) cacheProject(logger *slog.Logger, p domain.Project) {
	hydrated, err := a.cache.ProjectsHydrated(p.UserID)
	if err != nil {
		logger.Warn("cache: read projects failed", "err", err)
		return
	}
	if !hydrated {
		if _, err := a.loadProjects(p.UserID); err != nil {
			logger.Warn("cache: hydrate projects failed", "err", err)
		}
		return
	}
	if err := a.cache.SaveProject(p); err != nil {
		logger.Warn("cache: save project failed", "err", err)
	}
}

// GetProject returns a project the user owns.
func (a *App) GetProject(userID, projectID string) (domain.Project, error) {
	return a.resolveProject(userID, projectID)
}

// SelectProject makes projectID the user's current project.
func (a *App) SelectProject(userID, projectID string) (domain.Project, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := a.cache.SetCurrentProject(userID, project.ID); err != nil {
		return domain.Project{}, fmt.Errorf("select project: %w", err)
	}
	return project, nil
}

// CurrentProject returns the selected project. A stale pointer to a deleted
// project is cleared and reported as no selection.
func (a *App) CurrentProject(userID string) (domain.Project, bool, error) {
	id, ok, err := a.cache.CurrentProject(userID)
	if err != nil {
		return domain.Project{}, false, fmt.Errorf("read current project: %w", err)
	}
	if !ok {
		return domain.Project{}, false, nil
	}
	project, err := a.resolveProject(userID, id)
	if errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrProjectForbidden) {
		_ = a.cache.SetCurrentProject(userID, "")
		return domain.Project{}, false, nil
	}
	if err != nil {
		return domain.Project{}, false, err
	}
	return project, true, nil
}

// UpdateProject applies the non-nil fields of upd. The last write wins.
func (a *App) UpdateProject(ctx context.Context, userID, projectID string, upd domain.ProjectUpdate) (domain.Project, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	toneChanged := false
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return domain.Project{}, invalid("project name is required")
		}
		if len(name) > maxProjectNameLen {
			return domain.Project{}, invalid(fmt.Sprintf("project name must be at most %d characters", maxProjectNameLen))
		}
		project.Name = name
	}
	if upd.Tone != nil {
		tone, ok := domain.ParseTone(string(*upd.Tone))
		if !ok {
			return domain.Project{}, invalid("unknown tone of voice: " + string(*upd.Tone))
		}
		toneChanged = tone != project.Tone
		project.Tone = tone
	}
	if upd.CustomNotes != nil {
		project.CustomNotes = *upd.CustomNotes
	}
	if upd.StrategyBrief != nil {
		project.StrategyBrief = *upd.StrategyBrief
	}
	if upd.ResearchData != nil {
		project.ResearchData = *upd.ResearchData
	}
	project.UpdatedAt = time.Now().UTC()

	if err := a.store.SaveProject(project); err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "project_id", project.ID)
	a.cacheProject(logger, project)
	if toneChanged {
		a.appendSystemMessage(logger, userID, project.ID, fmt.Sprintf("Tone of voice updated to %s.", project.Tone))
	}
	return project, nil
}

// DeleteProject removes a project with everything attached to it.
func (a *App) DeleteProject(ctx context.Context, userID, projectID string) error {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return err
	}
	key := sessionKey{userID: userID, projectID: project.ID}
	prev, ok := a.sessions.acquire(key)
	if !ok {
		return ErrSessionBusy
	}
	if err := a.store.DeleteProject(project.ID); err != nil {
		a.sessions.finish(key, prev)
		return fmt.Errorf("delete project: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "project_id", project.ID)
	if err := a.cache.DeleteProject(userID, project.ID); err != nil {
		logger.Warn("cache: delete project failed", "err", err)
	}
	if a.objects != nil {
		if err := a.objects.DeletePrefix(ctx, storage.ProjectPrefix(project.ID)); err != nil {
			logger.Warn("delete project objects failed", "err", err)
		}
	}
	a.sessions.finish(key, StateIdle)
	return nil
}

// AddDocument stores pasted text as a project document.
func (a *App) AddDocument(ctx context.Context, userID, projectID, filename, content string) (domain.Document, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Document{}, invalid("filename is required")
	}
	if strings.TrimSpace(content) == "" {
		return domain.Document{}, invalid("document content is required")
	}
	return a.saveDocument(ctx, userID, project, filename, content, []byte(content))
}

// UploadDocument extracts text from an uploaded file and stores it. The raw
// bytes are archived when object storage is configured.
func (a *App) UploadDocument(ctx context.Context, userID, projectID, filename string, data []byte) (domain.Document, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		return domain.Document{}, invalid("filename is required")
	}
	if len(data) == 0 {
		return domain.Document{}, invalid("file is empty")
	}
	if len(data) > maxDocumentBytes {
		return domain.Document{}, invalid("file exceeds 10MB")
	}
	text, err := docparse.ExtractText(filename, data)
	if err != nil {
		switch {
		case errors.Is(err, docparse.ErrUnsupported):
			return domain.Document{}, invalid("unsupported file type: " + filepath.Ext(filename))
		case errors.Is(err, docparse.ErrNoText):
			return domain.Document{}, invalid("no readable text in " + filename)
		}
		return domain.Document{}, invalid(fmt.Sprintf("read %s: %v", filename, err))
	}
	return a.saveDocument(ctx, userID, project, filename, text, data)
}

func (a *App) saveDocument(ctx context.Context, userID string, project domain.Project, filename, text string, raw []byte) (domain.Document, error) {
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "project_id", project.ID)
	doc := domain.Document{
		ID:         util.NewID(),
		ProjectID:  project.ID,
		Filename:   filename,
		Content:    text,
		FileSize:   int64(len(raw)),
		UploadedAt: time.Now().UTC(),
	}
	if a.objects != nil {
		key := storage.DocumentKey(project.ID, doc.ID, filename)
		contentType := mime.TypeByExtension(filepath.Ext(filename))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := a.objects.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), contentType); err != nil {
			logger.Warn("archive document failed", "document_id", doc.ID, "err", err)
		} else {
			doc.StorageKey = key
		}
	}
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.cacheDocument(logger, userID, doc)
	logger.Info("document added", "document_id", doc.ID, "filename", filename, "bytes", doc.FileSize)
	return doc, nil
}

// ListDocuments returns a project's documents in upload order.
func (a *App) ListDocuments(userID, projectID string) ([]domain.Document, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return nil, err
	}
	return a.loadDocuments(userID, project.ID)
}

func (a *App) loadDocuments(userID, projectID string) ([]domain.Document, error) {
	hydrated, err := a.cache.DocumentsHydrated(userID, projectID)
	if err != nil {
		slog.Warn("cache: read documents failed", "project_id", projectID, "err", err)
	}
	if hydrated {
		cached, err := a.cache.ListDocuments(userID, projectID)
		if err == nil {
			return cached, nil
		}
		slog.Warn("cache: list documents failed", "project_id", projectID, "err", err)
	}
	docs, err := a.store.ListDocuments(projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if err := a.cache.SaveDocuments(userID, projectID, docs); err != nil {
		slog.Warn("cache: save documents failed", "project_id", projectID, "err", err)
	}
	return docs, nil
}

func (a *App) cacheDocument(logger *slog.Logger, userID string, doc domain.Document) {
	hydrated, err := a.cache.DocumentsHydrated(userID, doc.ProjectID)
	if err != nil {
		logger.Warn("cache: read documents failed", "err", err)
		return
	}
	if !hydrated {
		if _, err := a.loadDocuments(userID, doc.ProjectID); err != nil {
			logger.Warn("cache: hydrate documents failed", "err", err)
		}
		return
	}
	if err := a.cache.SaveDocument(userID, doc); err != nil {
		logger.Warn("cache: save document failed", "document_id", doc.ID, "err", err)
	}
}

// DeleteDocument removes one document and its archived object.
func (a *App) DeleteDocument(ctx context.Context, userID, projectID, documentID string) error {
	doc, err := a.document(userID, projectID, documentID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("user_id", userID, "document_id", doc.ID)
	if err := a.cache.DeleteDocument(userID, doc.ID); err != nil {
		logger.Warn("cache: delete document failed", "err", err)
	}
	if a.objects != nil && doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("delete document object failed", "err", err)
		}
	}
	return nil
}

// DocumentDownloadURL presigns a download link for an archived document.
func (a *App) DocumentDownloadURL(ctx context.Context, userID, projectID, documentID string) (string, error) {
	if a.objects == nil {
		return "", ErrStorageDisabled
	}
	doc, err := a.document(userID, projectID, documentID)
	if err != nil {
		return "", err
	}
	if doc.StorageKey == "" {
		return "", ErrDocumentNotFound
	}
	link, err := a.objects.PresignGet(ctx, doc.StorageKey, a.downloadTTL)
	if err != nil {
		return "", fmt.Errorf("presign document: %w", err)
	}
	return link, nil
}

// document loads a document from the store so the storage key is known.
func (a *App) document(userID, projectID, documentID string) (domain.Document, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.GetDocument(strings.TrimSpace(documentID))
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.ProjectID != project.ID {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

// ListMessages returns the project transcript in creation order.
func (a *App) ListMessages(userID, projectID string) ([]domain.ChatMessage, error) {
	project, err := a.resolveProject(userID, projectID)
	if err != nil {
		return nil, err
	}
	return a.loadMessages(userID, project.ID)
}

func (a *App) loadMessages(userID, projectID string) ([]domain.ChatMessage, error) {
	hydrated, err := a.cache.MessagesHydrated(userID, projectID)
	if err != nil {
		slog.Warn("cache: read messages failed", "project_id", projectID, "err", err)
	}
	if hydrated {
		cached, err := a.cache.ListMessages(userID, projectID)
		if err == nil {
			return cached, nil
		}
		slog.Warn("cache: list messages failed", "project_id", projectID, "err", err)
	}
	msgs, err := a.store.ListMessages(projectID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if err := a.cache.SaveMessages(userID, projectID, msgs); err != nil {
		slog.Warn("cache: save messages failed", "project_id", projectID, "err", err)
	}
	return msgs, nil
}

func (a *App) appendSystemMessage(logger *slog.Logger, userID, projectID, text string) {
	msg := domain.ChatMessage{
		ID:        util.NewID(),
		ProjectID: projectID,
		Role:      domain.RoleSystem,
		Content:   text,
		Kind:      domain.KindDatabaseUpdate,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		logger.Warn("save system message failed", "err", err)
		return
	}
	a.cacheMessage(logger, userID, msg)
}

func normalizeWebsite(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("website URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", invalid("website URL is invalid")
	}
	return u.String(), nil
}
