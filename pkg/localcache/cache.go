// Package localcache is the per-user workspace cache. Every entity kind lives in
// its own key as one JSON collection, read and rewritten wholesale.
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"copysensei/pkg/domain"
)

const defaultPrefix = "copysensei"

// allScope marks a collection hydrated for every project of the user.
const allScope = "*"

const (
	keyUser           = "user"
	keyProjects       = "projects"
	keyDocuments      = "documents"
	keyMessages       = "messages"
	keyGenerations    = "generations"
	keyCurrentProject = "current_project"
)

// Cache namespaces collections by user on top of a Backend.
type Cache struct {
	backend Backend
	prefix  string
	mu      sync.Mutex
}

// New wraps backend. An empty prefix defaults to "copysensei".
func New(backend Backend, prefix string) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{backend: backend, prefix: prefix}
}

// Key returns the storage key of one collection.
func (c *Cache) Key(userID, kind string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, userID, kind)
}

// GetUser returns the cached profile.
func (c *Cache) GetUser(userID string) (domain.User, bool, error) {
	var u domain.User
	ok, err := c.read(c.Key(userID, keyUser), &u)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// SaveUser replaces the cached profile.
func (c *Cache) SaveUser(u domain.User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(c.Key(u.ID, keyUser), u)
}

// SetCredits overwrites the cached credit balance.
func (c *Cache) SetCredits(userID string, credits int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var u domain.User
	ok, err := c.read(c.Key(userID, keyUser), &u)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	u.Credits = credits
	return c.write(c.Key(userID, keyUser), u)
}

// Clear drops every collection of a user.
func (c *Cache) Clear(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Delete(
		c.Key(userID, keyUser),
		c.Key(userID, keyProjects),
		c.Key(userID, keyDocuments),
		c.Key(userID, keyMessages),
		c.Key(userID, keyGenerations),
		c.Key(userID, keyCurrentProject),
	)
}

// ListProjects returns projects in creation order.
func (c *Cache) ListProjects(userID string) ([]domain.Project, error) {
	col, _, err := load[domain.Project](c, c.Key(userID, keyProjects))
	if err != nil {
		return nil, err
	}
	return col.Items, nil
}

// ProjectsHydrated reports whether the project collection was loaded in full
// by SaveProjects and has not expired since.
func (c *Cache) ProjectsHydrated(userID string) (bool, error) {
	col, _, err := load[domain.Project](c, c.Key(userID, keyProjects))
	if err != nil {
		return false, err
	}
	return col.hydrated(allScope), nil
}

// GetProject finds one project.
func (c *Cache) GetProject(userID, projectID string) (domain.Project, bool, error) {
	items, err := c.ListProjects(userID)
	if err != nil {
		return domain.Project{}, false, err
	}
	for _, p := range items {
		if p.ID == projectID {
			return p, true, nil
		}
	}
	return domain.Project{}, false, nil
}

// SaveProject inserts or replaces a project by id.
func (c *Cache) SaveProject(p domain.Project) error {
	if p.ID == "" || p.UserID == "" {
		return errors.New("project id and user id required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.Key(p.UserID, keyProjects)
	col, _, err := load[domain.Project](c, key)
	if err != nil {
		return err
	}
	replaced := false
	for i := range col.Items {
		if col.Items[i].ID == p.ID {
			col.Items[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		col.Items = append(col.Items, p)
	}
	return c.write(key, col)
}

// SaveProjects replaces the whole project collection and marks it complete.
func (c *Cache) SaveProjects(userID string, projects []domain.Project) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	col := collection[domain.Project]{Items: projects}
	col.markHydrated(allScope)
	return c.write(c.Key(userID, keyProjects), col)
}

// DeleteProject removes a project with its documents, messages and
// generations, and clears the current-project pointer when it pointed there.
func (c *Cache) DeleteProject(userID, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := prune(c, c.Key(userID, keyProjects), projectID, func(p domain.Project) bool { return p.ID != projectID }); err != nil {
		return err
	}
	if err := prune(c, c.Key(userID, keyDocuments), projectID, func(d domain.Document) bool { return d.ProjectID != projectID }); err != nil {
		return err
	}
	if err := prune(c, c.Key(userID, keyMessages), projectID, func(m domain.ChatMessage) bool { return m.ProjectID != projectID }); err != nil {
		return err
	}
	if err := prune(c, c.Key(userID, keyGenerations), projectID, func(g domain.CopyGeneration) bool { return g.ProjectID != projectID }); err != nil {
		return err
	}

	var current string
	if _, err := c.read(c.Key(userID, keyCurrentProject), &current); err != nil {
		return err
	}
	if current == projectID {
		return c.backend.Delete(c.Key(userID, keyCurrentProject))
	}
	return nil
}

// ListDocuments returns a project's documents in upload order.
func (c *Cache) ListDocuments(userID, projectID string) ([]domain.Document, error) {
	col, _, err := load[domain.Document](c, c.Key(userID, keyDocuments))
	if err != nil {
		return nil, err
	}
	return filter(col.Items, func(d domain.Document) bool { return d.ProjectID == projectID }), nil
}

// DocumentsHydrated reports whether a project's documents were loaded in full
// by SaveDocuments.
func (c *Cache) DocumentsHydrated(userID, projectID string) (bool, error) {
	col, _, err := load[domain.Document](c, c.Key(userID, keyDocuments))
	if err != nil {
		return false, err
	}
	return col.hydrated(projectID), nil
}

// SaveDocument appends a document.
func (c *Cache) SaveDocument(userID string, doc domain.Document) error {
	return appendTo(c, c.Key(userID, keyDocuments), doc)
}

// SaveDocuments replaces the documents of one project and marks them complete.
func (c *Cache) SaveDocuments(userID, projectID string, docs []domain.Document) error {
	return replaceScope(c, c.Key(userID, keyDocuments), projectID, docs, func(d domain.Document) bool { return d.ProjectID != projectID })
}

// DeleteDocument removes one document by id.
func (c *Cache) DeleteDocument(userID, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.Key(userID, keyDocuments)
	col, ok, err := load[domain.Document](c, key)
	if err != nil || !ok {
		return err
	}
	col.Items = filter(col.Items, func(d domain.Document) bool { return d.ID != documentID })
	return c.write(key, col)
}

// ListMessages returns a project's transcript in creation order.
func (c *Cache) ListMessages(userID, projectID string) ([]domain.ChatMessage, error) {
	col, _, err := load[domain.ChatMessage](c, c.Key(userID, keyMessages))
	if err != nil {
		return nil, err
	}
	return filter(col.Items, func(m domain.ChatMessage) bool { return m.ProjectID == projectID }), nil
}

// MessagesHydrated reports whether a project's transcript was loaded in full
// by SaveMessages.
func (c *Cache) MessagesHydrated(userID, projectID string) (bool, error) {
	col, _, err := load[domain.ChatMessage](c, c.Key(userID, keyMessages))
	if err != nil {
		return false, err
	}
	return col.hydrated(projectID), nil
}

// AppendMessage adds a message to the end of the transcript.
func (c *Cache) AppendMessage(userID string, msg domain.ChatMessage) error {
	return appendTo(c, c.Key(userID, keyMessages), msg)
}

// SaveMessages replaces the transcript of one project and marks it complete.
func (c *Cache) SaveMessages(userID, projectID string, msgs []domain.ChatMessage) error {
	return replaceScope(c, c.Key(userID, keyMessages), projectID, msgs, func(m domain.ChatMessage) bool { return m.ProjectID != projectID })
}

// ListGenerations returns a project's billed generations.
func (c *Cache) ListGenerations(userID, projectID string) ([]domain.CopyGeneration, error) {
	col, _, err := load[domain.CopyGeneration](c, c.Key(userID, keyGenerations))
	if err != nil {
		return nil, err
	}
	return filter(col.Items, func(g domain.CopyGeneration) bool { return g.ProjectID == projectID }), nil
}

// AppendGeneration records a billed generation.
func (c *Cache) AppendGeneration(userID string, gen domain.CopyGeneration) error {
	return appendTo(c, c.Key(userID, keyGenerations), gen)
}

// CurrentProject returns the selected project id.
func (c *Cache) CurrentProject(userID string) (string, bool, error) {
	var id string
	ok, err := c.read(c.Key(userID, keyCurrentProject), &id)
	if err != nil || !ok || id == "" {
		return "", false, err
	}
	return id, true, nil
}

// SetCurrentProject stores the selected project id. Empty clears it.
func (c *Cache) SetCurrentProject(userID, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.Key(userID, keyCurrentProject)
	if projectID == "" {
		return c.backend.Delete(key)
	}
	return c.write(key, projectID)
}

func (c *Cache) read(key string, out any) (bool, error) {
	data, err := c.backend.Get(key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) write(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.backend.Set(key, data); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// collection is the stored form of one entity kind. Hydrated lists the scopes
// (a project id, or allScope) whose items were copied in full from the store;
// the list lives in the same value so it expires together with the items.
type collection[T any] struct {
	Hydrated []string `json:"hydrated,omitempty"`
	Items    []T      `json:"items"`
}

func (col collection[T]) hydrated(scope string) bool {
	return slices.Contains(col.Hydrated, scope)
}

func (col *collection[T]) markHydrated(scope string) {
	if !col.hydrated(scope) {
		col.Hydrated = append(col.Hydrated, scope)
	}
}

func (col *collection[T]) forget(scope string) {
	col.Hydrated = slices.DeleteFunc(col.Hydrated, func(s string) bool { return s == scope })
}

func load[T any](c *Cache, key string) (collection[T], bool, error) {
	var col collection[T]
	ok, err := c.read(key, &col)
	if err != nil || !ok {
		return collection[T]{}, false, err
	}
	return col, true, nil
}

func appendTo[T any](c *Cache, key string, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, _, err := load[T](c, key)
	if err != nil {
		return err
	}
	col.Items = append(col.Items, item)
	return c.write(key, col)
}

func replaceScope[T any](c *Cache, key, scope string, items []T, keep func(T) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, _, err := load[T](c, key)
	if err != nil {
		return err
	}
	col.Items = append(filter(col.Items, keep), items...)
	col.markHydrated(scope)
	return c.write(key, col)
}

// prune drops items not kept and forgets scope. Callers hold c.mu.
func prune[T any](c *Cache, key, scope string, keep func(T) bool) error {
	col, ok, err := load[T](c, key)
	if err != nil || !ok {
		return err
	}
	col.Items = filter(col.Items, keep)
	col.forget(scope)
	return c.write(key, col)
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
