package store

import (
	"errors"
	"sync"
	"time"

	"copysensei/pkg/domain"
)

// MemoryStore keeps everything in-process. Used for local runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	projects    map[string]domain.Project
	order       []string
	documents   map[string]domain.Document
	docOrder    []string
	messages    map[string][]domain.ChatMessage
	generations map[string][]domain.CopyGeneration
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		projects:    make(map[string]domain.Project),
		documents:   make(map[string]domain.Document),
		messages:    make(map[string][]domain.ChatMessage),
		generations: make(map[string][]domain.CopyGeneration),
	}
}

func (m *MemoryStore) EnsureUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		return existing, nil
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SetCredits(userID string, credits int) error {
	if credits < 0 {
		return errors.New("credits must be >= 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Credits = credits
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) AddCredits(userID string, delta int) (int, error) {
	if delta < 0 {
		return m.ChargeCredits(userID, -delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	u.Credits += delta
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return u.Credits, nil
}

func (m *MemoryStore) ChargeCredits(userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chargeLocked(userID, amount)
}

func (m *MemoryStore) chargeLocked(userID string, amount int) (int, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if amount <= 0 {
		return u.Credits, nil
	}
	if u.Credits < amount {
		return 0, ErrInsufficientCredits
	}
	u.Credits -= amount
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return u.Credits, nil
}

// RecordBilledReply applies the reply, the generation and the charge under one lock.
// Nothing is written when the charge fails.
func (m *MemoryStore) RecordBilledReply(userID string, reply domain.ChatMessage, gen domain.CopyGeneration, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, err := m.chargeLocked(userID, amount)
	if err != nil {
		return 0, err
	}
	m.messages[reply.ProjectID] = append(m.messages[reply.ProjectID], reply)
	m.generations[gen.ProjectID] = append(m.generations[gen.ProjectID], gen)
	return balance, nil
}

func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjectsByUser(userID string) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.projects[id]; ok && p.UserID == userID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (m *MemoryStore) SetResearch(projectID, researchData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return errors.New("project not found")
	}
	p.ResearchData = researchData
	p.UpdatedAt = time.Now().UTC()
	m.projects[projectID] = p
	return nil
}

func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	delete(m.messages, id)
	delete(m.generations, id)
	m.order = without(m.order, id)
	kept := m.docOrder[:0]
	for _, docID := range m.docOrder {
		if m.documents[docID].ProjectID == id {
			delete(m.documents, docID)
			continue
		}
		kept = append(kept, docID)
	}
	m.docOrder = kept
	return nil
}

func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocuments(projectID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, id := range m.docOrder {
		if d := m.documents[id]; d.ProjectID == projectID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	m.docOrder = without(m.docOrder, id)
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ProjectID] = append(m.messages[msg.ProjectID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(projectID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[projectID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) AppendGeneration(g domain.CopyGeneration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[g.ProjectID] = append(m.generations[g.ProjectID], g)
	return nil
}

func (m *MemoryStore) ListGenerations(projectID string) ([]domain.CopyGeneration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gens := m.generations[projectID]
	out := make([]domain.CopyGeneration, len(gens))
	copy(out, gens)
	return out, nil
}

func without(ids []string, drop string) []string {
	filtered := ids[:0]
	for _, id := range ids {
		if id != drop {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
