package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"copysensei/pkg/classify"
	"copysensei/pkg/domain"
	"copysensei/pkg/events"
	"copysensei/pkg/functions"
	"copysensei/pkg/queue"
	"copysensei/pkg/storage"
	"copysensei/pkg/store"
)

const (
	defaultCredits      = 5
	defaultHistoryLimit = 10
	defaultDownloadTTL  = 15 * time.Minute
)

// LocalCache is the per-user workspace cache.
type LocalCache interface {
	GetUser(userID string) (domain.User, bool, error)
	SaveUser(domain.User) error
	SetCredits(userID string, credits int) error

	ListProjects(userID string) ([]domain.Project, error)
	ProjectsHydrated(userID string) (bool, error)
	GetProject(userID, projectID string) (domain.Project, bool, error)
	SaveProject(domain.Project) error
	SaveProjects(userID string, projects []domain.Project) error
	DeleteProject(userID, projectID string) error

	ListDocuments(userID, projectID string) ([]domain.Document, error)
	DocumentsHydrated(userID, projectID string) (bool, error)
	SaveDocument(userID string, doc domain.Document) error
	SaveDocuments(userID, projectID string, docs []domain.Document) error
	DeleteDocument(userID, documentID string) error

	ListMessages(userID, projectID string) ([]domain.ChatMessage, error)
	MessagesHydrated(userID, projectID string) (bool, error)
	AppendMessage(userID string, msg domain.ChatMessage) error
	SaveMessages(userID, projectID string, msgs []domain.ChatMessage) error

	AppendGeneration(userID string, gen domain.CopyGeneration) error

	CurrentProject(userID string) (string, bool, error)
	SetCurrentProject(userID, projectID string) error
}

// CopyGenerator calls the generate-copy function.
type CopyGenerator interface {
	GenerateCopy(ctx context.Context, req functions.CopyRequest) (string, error)
}

// ResearchFetcher calls the fetch-research function.
type ResearchFetcher interface {
	FetchResearch(ctx context.Context, req functions.ResearchRequest) (string, error)
}

// ResearchQueue schedules asynchronous research jobs.
type ResearchQueue interface {
	Enqueue(ctx context.Context, projectID, userID string) (queue.Job, error)
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
	Start(ctx context.Context, concurrency int, handler queue.Handler)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Cache       LocalCache
	Copy        CopyGenerator
	Research    ResearchFetcher
	Queue       ResearchQueue
	Objects     storage.ObjectStore
	Events      events.Publisher

	DefaultCredits int
	HistoryLimit   int
	LowValuePolicy classify.Policy
	DownloadURLTTL time.Duration
}

// App orchestrates chat sends, credits and the project workspace.
type App struct {
	store    store.Store
	cache    LocalCache
	copy     CopyGenerator
	research ResearchFetcher
	queue    ResearchQueue
	objects  storage.ObjectStore
	events   events.Publisher

	defaultCredits int
	historyLimit   int
	policy         classify.Policy
	downloadTTL    time.Duration

	sessions *sessions
}

// New constructs the application. A DatabaseURL without an explicit Store
// opens the Postgres store.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("local cache required")
	}
	if cfg.Copy == nil {
		return nil, fmt.Errorf("generate-copy client required")
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	credits := cfg.DefaultCredits
	if credits <= 0 {
		credits = defaultCredits
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = defaultHistoryLimit
	}
	if historyLimit < 0 {
		historyLimit = 0
	}
	policy := cfg.LowValuePolicy
	if policy == "" {
		policy = classify.PolicyBlock
	}
	downloadTTL := cfg.DownloadURLTTL
	if downloadTTL <= 0 {
		downloadTTL = defaultDownloadTTL
	}
	return &App{
		store:          dataStore,
		cache:          cfg.Cache,
		copy:           cfg.Copy,
		research:       cfg.Research,
		queue:          cfg.Queue,
		objects:        cfg.Objects,
		events:         publisher,
		defaultCredits: credits,
		historyLimit:   historyLimit,
		policy:         policy,
		downloadTTL:    downloadTTL,
		sessions:       newSessions(),
	}, nil
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// EnsureUser provisions a profile with the default balance on first sight
// and refreshes the cached copy.
func (a *App) EnsureUser(id Identity) (domain.User, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		return domain.User{}, invalid("user id required")
	}
	now := time.Now().UTC()
	user, err := a.store.EnsureUser(domain.User{
		ID:        userID,
		Email:     strings.TrimSpace(id.Email),
		Credits:   a.defaultCredits,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	if err := a.cache.SaveUser(user); err != nil {
		slog.Warn("cache: save user failed", "user_id", user.ID, "err", err)
	}
	return user, nil
}

// Balance returns the caller's credit balance as recorded remotely.
func (a *App) Balance(userID string) (int, error) {
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return 0, ErrUserNotFound
	}
	if err := a.cache.SetCredits(userID, user.Credits); err != nil {
		slog.Warn("cache: set credits failed", "user_id", userID, "err", err)
	}
	return user.Credits, nil
}

// resolveUser reads the cached profile, hydrating it from the store on a miss.
func (a *App) resolveUser(userID string) (domain.User, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, ErrUserNotFound
	}
	if user, ok, err := a.cache.GetUser(userID); err == nil && ok {
		return user, nil
	} else if err != nil {
		slog.Warn("cache: read user failed", "user_id", userID, "err", err)
	}
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if err := a.cache.SaveUser(user); err != nil {
		slog.Warn("cache: save user failed", "user_id", userID, "err", err)
	}
	return user, nil
}

// resolveProject reads a project the user owns, hydrating the cache on a miss.
func (a *App) resolveProject(userID, projectID string) (domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Project{}, ErrProjectNotFound
	}
	if p, ok, err := a.cache.GetProject(userID, projectID); err == nil && ok && p.UserID == userID {
		return p, nil
	} else if err != nil {
		slog.Warn("cache: read project failed", "project_id", projectID, "err", err)
	}
	p, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	if p.UserID != userID {
		return domain.Project{}, ErrProjectForbidden
	}
	if err := a.cache.SaveProject(p); err != nil {
		slog.Warn("cache: save project failed", "project_id", projectID, "err", err)
	}
	return p, nil
}

// SessionState is the lifecycle of one (user, project) chat session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingResponse
	StateDelivered
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type sessionKey struct {
	userID    string
	projectID string
}

// sessions tracks the state of every chat session. Delivered and Failed are
// terminal for one send; the next send starts again from them as from Idle.
type sessions struct {
	mu       sync.Mutex
	state    map[sessionKey]SessionState
	reserved map[string]int
}

func newSessions() *sessions {
	return &sessions{
		state:    make(map[sessionKey]SessionState),
		reserved: make(map[string]int),
	}
}

// reserve holds amount credits of balance for a pending billable send of the
// user. It fails when sends already in flight on other projects would leave
// less than amount.
func (s *sessions) reserve(userID string, balance, amount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance-s.reserved[userID] < amount {
		return false
	}
	s.reserved[userID] += amount
	return true
}

func (s *sessions) release(userID string, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[userID] <= amount {
		delete(s.reserved, userID)
		return
	}
	s.reserved[userID] -= amount
}

// acquire moves the session to AwaitingResponse unless a send is already
// pending. It returns the previous state for release on early abort.
func (s *sessions) acquire(key sessionKey) (SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state[key]
	if prev == StateAwaitingResponse {
		return prev, false
	}
	s.state[key] = StateAwaitingResponse
	return prev, true
}

func (s *sessions) finish(key sessionKey, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == StateIdle {
		delete(s.state, key)
		return
	}
	s.state[key] = state
}

func (s *sessions) get(key sessionKey) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key]
}

// SessionState reports the state of the user's session on a project.
func (a *App) SessionState(userID, projectID string) SessionState {
	return a.sessions.get(sessionKey{userID: userID, projectID: projectID})
}
