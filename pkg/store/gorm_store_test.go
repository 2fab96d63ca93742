package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"copysensei/pkg/domain"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copysensei.db")
	s, err := NewGormStoreWithDialector(sqlite.Open(path + "?_busy_timeout=5000"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores returns every Store implementation so the shared behavior is checked on both.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"gorm":   newSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestEnsureUserKeepsExistingBalance(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			u, err := s.EnsureUser(domain.User{ID: "u-1", Email: "a@example.com", Credits: 5})
			if err != nil {
				t.Fatalf("ensure user: %v", err)
			}
			if u.Credits != 5 {
				t.Fatalf("credits = %d, want 5", u.Credits)
			}
			if _, err := s.ChargeCredits("u-1", 2); err != nil {
				t.Fatalf("charge: %v", err)
			}
			again, err := s.EnsureUser(domain.User{ID: "u-1", Email: "a@example.com", Credits: 5})
			if err != nil {
				t.Fatalf("ensure user again: %v", err)
			}
			if again.Credits != 3 {
				t.Fatalf("credits after re-ensure = %d, want 3", again.Credits)
			}
		})
	}
}

func TestChargeCreditsNeverNegative(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.EnsureUser(domain.User{ID: "u-1", Credits: 1}); err != nil {
				t.Fatalf("ensure user: %v", err)
			}
			balance, err := s.ChargeCredits("u-1", 1)
			if err != nil || balance != 0 {
				t.Fatalf("first charge = %d, %v; want 0, nil", balance, err)
			}
			if _, err := s.ChargeCredits("u-1", 1); !errors.Is(err, ErrInsufficientCredits) {
				t.Fatalf("second charge err = %v, want ErrInsufficientCredits", err)
			}
			u, _, _ := s.GetUser("u-1")
			if u.Credits != 0 {
				t.Fatalf("credits = %d, want 0", u.Credits)
			}
			if _, err := s.ChargeCredits("ghost", 1); !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("charge unknown user err = %v, want ErrUserNotFound", err)
			}
		})
	}
}

func TestAddCredits(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, _ = s.EnsureUser(domain.User{ID: "u-1", Credits: 2})
			balance, err := s.AddCredits("u-1", 10)
			if err != nil || balance != 12 {
				t.Fatalf("add credits = %d, %v; want 12", balance, err)
			}
			if _, err := s.AddCredits("u-1", -20); !errors.Is(err, ErrInsufficientCredits) {
				t.Fatalf("negative add err = %v, want ErrInsufficientCredits", err)
			}
		})
	}
}

func TestRecordBilledReplyIsAtomic(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			recorder, ok := s.(BillingRecorder)
			if !ok {
				t.Fatalf("%s store does not record billed replies", name)
			}
			_, _ = s.EnsureUser(domain.User{ID: "u-1", Credits: 1})
			now := time.Now().UTC()
			reply := domain.ChatMessage{ID: "m-1", ProjectID: "p-1", Role: domain.RoleAssistant, Content: "Headline", Kind: domain.KindCopyGeneration, CreditsUsed: 1, CreatedAt: now}
			gen := domain.CopyGeneration{ID: "g-1", ProjectID: "p-1", Prompt: "write", GeneratedCopy: "Headline", CreditsUsed: 1, CreatedAt: now}

			balance, err := recorder.RecordBilledReply("u-1", reply, gen, 1)
			if err != nil || balance != 0 {
				t.Fatalf("record = %d, %v; want 0, nil", balance, err)
			}

			reply.ID, gen.ID = "m-2", "g-2"
			if _, err := recorder.RecordBilledReply("u-1", reply, gen, 1); !errors.Is(err, ErrInsufficientCredits) {
				t.Fatalf("second record err = %v, want ErrInsufficientCredits", err)
			}
			msgs, _ := s.ListMessages("p-1", 0)
			if len(msgs) != 1 {
				t.Fatalf("messages = %d, want 1 (failed charge must roll back)", len(msgs))
			}
			gens, _ := s.ListGenerations("p-1")
			if len(gens) != 1 {
				t.Fatalf("generations = %d, want 1", len(gens))
			}
		})
	}
}

func TestConcurrentChargesStopAtZero(t *testing.T) {
	s := NewMemoryStore()
	_, _ = s.EnsureUser(domain.User{ID: "u-1", Credits: 3})
	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ChargeCredits("u-1", 1); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if okCount != 3 {
		t.Fatalf("successful charges = %d, want 3", okCount)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			for _, id := range []string{"p-1", "p-2"} {
				if err := s.SaveProject(domain.Project{ID: id, UserID: "u-1", Name: id, WebsiteURL: "https://example.com", Tone: domain.ToneCasual, CreatedAt: now, UpdatedAt: now}); err != nil {
					t.Fatalf("save project: %v", err)
				}
				_ = s.SaveDocument(domain.Document{ID: id + "-d", ProjectID: id, Filename: "a.txt", Content: "x", UploadedAt: now})
				_ = s.AppendMessage(domain.ChatMessage{ID: id + "-m", ProjectID: id, Role: domain.RoleUser, Content: "x", Kind: domain.KindChat, CreatedAt: now})
				_ = s.AppendGeneration(domain.CopyGeneration{ID: id + "-g", ProjectID: id, CreditsUsed: 1, CreatedAt: now})
			}
			if err := s.DeleteProject("p-1"); err != nil {
				t.Fatalf("delete project: %v", err)
			}
			if _, ok, _ := s.GetProject("p-1"); ok {
				t.Fatalf("project still present")
			}
			if docs, _ := s.ListDocuments("p-1"); len(docs) != 0 {
				t.Fatalf("documents left: %d", len(docs))
			}
			if msgs, _ := s.ListMessages("p-1", 0); len(msgs) != 0 {
				t.Fatalf("messages left: %d", len(msgs))
			}
			if gens, _ := s.ListGenerations("p-1"); len(gens) != 0 {
				t.Fatalf("generations left: %d", len(gens))
			}
			if projects, _ := s.ListProjectsByUser("u-1"); len(projects) != 1 {
				t.Fatalf("projects = %d, want 1", len(projects))
			}
		})
	}
}

func TestListMessagesLimitKeepsNewestInOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			for i, id := range []string{"m-1", "m-2", "m-3", "m-4"} {
				_ = s.AppendMessage(domain.ChatMessage{ID: id, ProjectID: "p-1", Role: domain.RoleUser, Content: id, Kind: domain.KindChat, CreatedAt: base.Add(time.Duration(i) * time.Second)})
			}
			msgs, err := s.ListMessages("p-1", 2)
			if err != nil {
				t.Fatalf("list messages: %v", err)
			}
			if len(msgs) != 2 || msgs[0].ID != "m-3" || msgs[1].ID != "m-4" {
				t.Fatalf("unexpected window: %+v", msgs)
			}
		})
	}
}

func TestResearchRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	now := time.Now().UTC()
	_ = s.SaveProject(domain.Project{ID: "p-1", UserID: "u-1", Name: "Acme", WebsiteURL: "https://acme.test", Tone: domain.ToneProfessional, CreatedAt: now, UpdatedAt: now})

	if err := s.SetResearch("p-1", `{"company":"Acme"}`); err != nil {
		t.Fatalf("set research: %v", err)
	}
	p, _, _ := s.GetProject("p-1")
	if p.ResearchData != `{"company":"Acme"}` {
		t.Fatalf("json research = %q", p.ResearchData)
	}

	if err := s.SetResearch("p-1", "plain notes, not json"); err != nil {
		t.Fatalf("set research text: %v", err)
	}
	p, _, _ = s.GetProject("p-1")
	if p.ResearchData != "plain notes, not json" {
		t.Fatalf("text research = %q", p.ResearchData)
	}

	if err := s.SetResearch("missing", "x"); err == nil {
		t.Fatalf("expected error for unknown project")
	}
}
