package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"copysensei/pkg/classify"
	"copysensei/pkg/domain"
	"copysensei/pkg/events"
	"copysensei/pkg/functions"
	"copysensei/pkg/localcache"
	"copysensei/pkg/store"
)

type fakeCopy struct {
	mu      sync.Mutex
	reply   string
	err     error
	gate    chan struct{}
	entered chan struct{}
	calls   []functions.CopyRequest
}

func (f *fakeCopy) GenerateCopy(ctx context.Context, req functions.CopyRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeCopy) lastCall() functions.CopyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// plainStore hides the BillingRecorder capability of the wrapped store.
type plainStore struct {
	store.Store
}

type failingChargeStore struct {
	plainStore
}

func (failingChargeStore) ChargeCredits(string, int) (int, error) {
	return 0, errors.New("connection reset")
}

type testEnv struct {
	app    *App
	cfg    Config
	store  *store.MemoryStore
	cache  *localcache.Cache
	copy   *fakeCopy
	events *events.Recorder
}

func newTestEnv(t *testing.T, wrap func(*store.MemoryStore) store.Store, mutate func(*Config)) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore()
	var dataStore store.Store = mem
	if wrap != nil {
		dataStore = wrap(mem)
	}
	env := &testEnv{
		store:  mem,
		cache:  localcache.New(localcache.NewMemoryBackend(), "test"),
		copy:   &fakeCopy{reply: "Fresh Bread, Fresh Smiles"},
		events: &events.Recorder{},
	}
	cfg := Config{
		Store:  dataStore,
		Cache:  env.cache,
		Copy:   env.copy,
		Events: env.events,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	env.cfg = cfg
	return env
}

// restart rebuilds the app over the same store with an empty cache, as after
// a process restart with the in-memory backend.
func (e *testEnv) restart(t *testing.T) {
	t.Helper()
	e.cache = localcache.New(localcache.NewMemoryBackend(), "test")
	cfg := e.cfg
	cfg.Cache = e.cache
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	e.app = a
	e.cfg = cfg
}

// seed provisions a user with the given balance and one project.
func (e *testEnv) seed(t *testing.T, userID string, credits int) domain.Project {
	t.Helper()
	if _, err := e.app.EnsureUser(Identity{UserID: userID, Email: userID + "@example.com"}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := e.store.SetCredits(userID, credits); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	if err := e.cache.SetCredits(userID, credits); err != nil {
		t.Fatalf("cache credits: %v", err)
	}
	p, err := e.app.CreateProject(context.Background(), userID, "Bakery", "bakery.example", "friendly")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (e *testEnv) messageCount(t *testing.T, projectID string) int {
	t.Helper()
	msgs, err := e.store.ListMessages(projectID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return len(msgs)
}

func (e *testEnv) balance(t *testing.T, userID string) int {
	t.Helper()
	u, ok, err := e.store.GetUser(userID)
	if err != nil || !ok {
		t.Fatalf("get user: ok=%v err=%v", ok, err)
	}
	return u.Credits
}

func TestSendBillableChargesOneCredit(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 1)
	before := env.messageCount(t, p.ID)

	res, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a tagline for my bakery")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Billable || res.Credits != 0 {
		t.Fatalf("result billable=%v credits=%d", res.Billable, res.Credits)
	}
	if res.AssistantMessage.Content != "Fresh Bread, Fresh Smiles" || res.AssistantMessage.CreditsUsed != 1 {
		t.Fatalf("assistant = %+v", res.AssistantMessage)
	}
	if res.UserMessage.Kind != domain.KindCopyGeneration || res.AssistantMessage.Kind != domain.KindCopyGeneration {
		t.Fatalf("kinds = %q/%q", res.UserMessage.Kind, res.AssistantMessage.Kind)
	}
	if res.UserMessage.CreditsUsed != 0 {
		t.Fatalf("user message credits = %d", res.UserMessage.CreditsUsed)
	}
	if got := env.balance(t, "u1"); got != 0 {
		t.Fatalf("remote balance = %d, want 0", got)
	}
	cached, _, _ := env.cache.GetUser("u1")
	if cached.Credits != 0 {
		t.Fatalf("cached balance = %d, want 0", cached.Credits)
	}
	if got := env.messageCount(t, p.ID) - before; got != 2 {
		t.Fatalf("new messages = %d, want 2", got)
	}
	gens, _ := env.store.ListGenerations(p.ID)
	if len(gens) != 1 || gens[0].Prompt != "Write a tagline for my bakery" {
		t.Fatalf("generations = %+v", gens)
	}
	evs := env.events.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	charged, ok := evs[0].(events.CreditCharged)
	if !ok || charged.Balance != 0 || charged.Amount != 1 || charged.MessageID != res.AssistantMessage.ID {
		t.Fatalf("event = %+v", evs[0])
	}
	if got := env.app.SessionState("u1", p.ID); got != StateDelivered {
		t.Fatalf("state = %s, want delivered", got)
	}
}

func TestSendWithoutCreditsIsRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 0)
	before := env.messageCount(t, p.ID)

	_, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Generate a slogan")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := env.balance(t, "u1"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	if got := env.messageCount(t, p.ID) - before; got != 0 {
		t.Fatalf("new messages = %d, want 0", got)
	}
	if len(env.copy.calls) != 0 {
		t.Fatalf("generate-copy called %d times", len(env.copy.calls))
	}
	if got := env.app.SessionState("u1", p.ID); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestSendLowValueChat(t *testing.T) {
	t.Run("blocked by default", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		p := env.seed(t, "u1", 3)
		before := env.messageCount(t, p.ID)

		_, err := env.app.SendMessage(context.Background(), "u1", p.ID, "hello")
		if !errors.Is(err, ErrLowValueChat) {
			t.Fatalf("err = %v, want ErrLowValueChat", err)
		}
		var lv *LowValueError
		if !errors.As(err, &lv) || lv.Advisory != classify.LowValueAdvisory {
			t.Fatalf("advisory missing: %v", err)
		}
		if got := env.messageCount(t, p.ID) - before; got != 0 {
			t.Fatalf("new messages = %d, want 0", got)
		}
		if got := env.balance(t, "u1"); got != 3 {
			t.Fatalf("balance = %d, want 3", got)
		}
	})

	t.Run("advise lets it through for free", func(t *testing.T) {
		env := newTestEnv(t, nil, func(cfg *Config) { cfg.LowValuePolicy = classify.PolicyAdvise })
		env.copy.reply = "Hi! What should we write today?"
		p := env.seed(t, "u1", 3)

		res, err := env.app.SendMessage(context.Background(), "u1", p.ID, "hello")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if res.Advisory != classify.LowValueAdvisory || res.Billable {
			t.Fatalf("result = %+v", res)
		}
		if got := env.balance(t, "u1"); got != 3 {
			t.Fatalf("balance = %d, want 3", got)
		}
		if len(env.events.Events()) != 0 {
			t.Fatalf("unexpected credit event")
		}
	})
}

func TestSendRemoteFailureKeepsOnlyUserMessage(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		err   error
	}{
		{name: "transport error", err: errors.New("dial tcp: connection refused")},
		{name: "api error", err: &functions.APIError{Status: 500, Message: "OPENAI_API_KEY is not configured"}},
		{name: "citations only", reply: " [1][2] "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			env.copy.reply, env.copy.err = tc.reply, tc.err
			p := env.seed(t, "u1", 2)
			before := env.messageCount(t, p.ID)

			_, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Draft an email subject line")
			if !errors.Is(err, ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			if got := env.messageCount(t, p.ID) - before; got != 1 {
				t.Fatalf("new messages = %d, want 1", got)
			}
			if got := env.balance(t, "u1"); got != 2 {
				t.Fatalf("balance = %d, want 2", got)
			}
			if got := env.app.SessionState("u1", p.ID); got != StateFailed {
				t.Fatalf("state = %s, want failed", got)
			}
		})
	}
}

func TestSendFailedSessionCanRetry(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.copy.err = errors.New("timeout")
	p := env.seed(t, "u1", 2)

	if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a headline"); err == nil {
		t.Fatalf("expected failure")
	}
	env.copy.err = nil
	if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a headline"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := env.balance(t, "u1"); got != 1 {
		t.Fatalf("balance = %d, want 1", got)
	}
}

func TestSendFreeChatDoesNotCharge(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.copy.reply = "Noted, I'll keep the tone friendly."
	p := env.seed(t, "u1", 0)

	res, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Our audience is young parents")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Billable || res.AssistantMessage.CreditsUsed != 0 || res.AssistantMessage.Kind != domain.KindChat {
		t.Fatalf("result = %+v", res)
	}
	if gens, _ := env.store.ListGenerations(p.ID); len(gens) != 0 {
		t.Fatalf("generations = %d, want 0", len(gens))
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 1)
	other := env.seed(t, "u2", 1)

	cases := []struct {
		name      string
		userID    string
		projectID string
		text      string
		want      error
	}{
		{name: "empty", userID: "u1", projectID: p.ID, text: "   ", want: ErrEmptyMessage},
		{name: "unknown user", userID: "ghost", projectID: p.ID, text: "write", want: ErrUserNotFound},
		{name: "unknown project", userID: "u1", projectID: "missing", text: "write", want: ErrProjectNotFound},
		{name: "foreign project", userID: "u1", projectID: other.ID, text: "write", want: ErrProjectForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.app.SendMessage(context.Background(), tc.userID, tc.projectID, tc.text); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSendWhileAwaitingIsBusy(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	gate := make(chan struct{})
	env.copy.gate = gate
	env.copy.entered = make(chan struct{}, 1)
	p := env.seed(t, "u1", 5)
	second, err := env.app.CreateProject(context.Background(), "u1", "Cafe", "cafe.example", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a headline")
		done <- err
	}()
	select {
	case <-env.copy.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("generate-copy never called")
	}
	if got := env.app.SessionState("u1", p.ID); got != StateAwaitingResponse {
		t.Fatalf("state = %s, want awaiting_response", got)
	}
	before := env.messageCount(t, p.ID)
	if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write another"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}
	if got := env.messageCount(t, p.ID); got != before {
		t.Fatalf("busy send persisted a message")
	}
	if err := env.app.DeleteProject(context.Background(), "u1", p.ID); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("delete err = %v, want ErrSessionBusy", err)
	}

	// A different project is an independent session.
	env.copy.mu.Lock()
	env.copy.gate = nil
	env.copy.mu.Unlock()
	if _, err := env.app.SendMessage(context.Background(), "u1", second.ID, "Write a slogan"); err != nil {
		t.Fatalf("send to second project: %v", err)
	}
	<-env.copy.entered

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if got := env.balance(t, "u1"); got != 3 {
		t.Fatalf("balance = %d, want 3", got)
	}
}

func TestSendSendsBoundedHistoryAndContext(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) { cfg.HistoryLimit = 2 })
	p := env.seed(t, "u1", 10)
	notes := "Never mention price"
	if _, err := env.app.UpdateProject(context.Background(), "u1", p.ID, domain.ProjectUpdate{CustomNotes: &notes}); err != nil {
		t.Fatalf("update project: %v", err)
	}

	for _, text := range []string{"Write a headline", "Write a subheading"} {
		if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a call to action"); err != nil {
		t.Fatalf("send: %v", err)
	}

	req := env.copy.lastCall()
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 2 history + 1 new", len(req.Messages))
	}
	if req.Messages[0].Role != "user" || req.Messages[0].Content != "Write a subheading" {
		t.Fatalf("oldest kept turn = %+v", req.Messages[0])
	}
	if last := req.Messages[2]; last.Role != "user" || last.Content != "Write a call to action" {
		t.Fatalf("new turn = %+v", last)
	}
	for _, m := range req.Messages {
		if m.Role == string(domain.RoleSystem) {
			t.Fatalf("system message leaked into history: %+v", m)
		}
	}
	if req.Context.ToneOfVoice != "friendly" || req.Context.CustomNotes != notes {
		t.Fatalf("context = %+v", req.Context)
	}
}

func TestSendFallbackChargesAfterReply(t *testing.T) {
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store { return plainStore{m} }, nil)
	p := env.seed(t, "u1", 2)

	res, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Compose a product description")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Credits != 1 || env.balance(t, "u1") != 1 {
		t.Fatalf("credits = %d remote = %d, want 1", res.Credits, env.balance(t, "u1"))
	}
	if len(env.events.Events()) != 1 {
		t.Fatalf("events = %d, want 1", len(env.events.Events()))
	}
}

func TestSendFallbackChargeFailureKeepsReply(t *testing.T) {
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store {
		return failingChargeStore{plainStore{m}}
	}, nil)
	p := env.seed(t, "u1", 2)
	before := env.messageCount(t, p.ID)

	res, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a tagline")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Credits != 2 {
		t.Fatalf("credits = %d, want unchanged 2", res.Credits)
	}
	if got := env.messageCount(t, p.ID) - before; got != 2 {
		t.Fatalf("new messages = %d, want 2", got)
	}
	if len(env.events.Events()) != 0 {
		t.Fatalf("credit event published for a failed charge")
	}
}

func TestTranscriptReadsAreStable(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 3)
	for _, text := range []string{"Write a headline", "Rewrite it shorter"} {
		if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	first, err := env.app.ListMessages("u1", p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	second, err := env.app.ListMessages("u1", p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 5 || len(first) != len(second) {
		t.Fatalf("lengths = %d/%d, want 5", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Content != second[i].Content {
			t.Fatalf("message %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}

	// A cold cache rebuilds the same transcript from the store.
	if err := env.cache.Clear("u1"); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	rebuilt, err := env.app.ListMessages("u1", p.ID)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(rebuilt) != len(first) {
		t.Fatalf("rebuilt = %d, want %d", len(rebuilt), len(first))
	}
	for i := range first {
		if rebuilt[i].ID != first[i].ID {
			t.Fatalf("rebuilt order differs at %d", i)
		}
	}
}

func TestStripCitations(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "Fresh bread daily [1].", want: "Fresh bread daily."},
		{in: "Bake it [2, 3] and love it [4][5]", want: "Bake it and love it"},
		{in: "  plain copy  ", want: "plain copy"},
		{in: "Keep [brackets] with words", want: "Keep [brackets] with words"},
		{in: "[1]", want: ""},
	}
	for _, tc := range cases {
		if got := StripCitations(tc.in); got != tc.want {
			t.Fatalf("StripCitations(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSendHistoryAfterCacheReset(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 10)
	ctx := context.Background()
	for _, text := range []string{"Write a headline", "Write a subheading"} {
		if _, err := env.app.SendMessage(ctx, "u1", p.ID, text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	env.restart(t)
	casual := domain.ToneCasual
	if _, err := env.app.UpdateProject(ctx, "u1", p.ID, domain.ProjectUpdate{Tone: &casual}); err != nil {
		t.Fatalf("update tone: %v", err)
	}
	if _, err := env.app.SendMessage(ctx, "u1", p.ID, "Write a closing line"); err != nil {
		t.Fatalf("send: %v", err)
	}

	req := env.copy.lastCall()
	if len(req.Messages) != 5 {
		t.Fatalf("messages sent = %d, want 4 history + 1 new", len(req.Messages))
	}
	if req.Messages[0].Content != "Write a headline" {
		t.Fatalf("oldest turn = %+v", req.Messages[0])
	}
	listed, err := env.app.ListMessages("u1", p.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if stored := env.messageCount(t, p.ID); len(listed) != stored || stored != 8 {
		t.Fatalf("listed = %d, stored = %d, want 8", len(listed), stored)
	}
}

func TestSendReservesCreditsAcrossProjects(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	gate := make(chan struct{})
	env.copy.gate = gate
	env.copy.entered = make(chan struct{}, 1)
	p := env.seed(t, "u1", 1)
	second, err := env.app.CreateProject(context.Background(), "u1", "Cafe", "cafe.example", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a headline")
		done <- err
	}()
	select {
	case <-env.copy.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("generate-copy never called")
	}

	before := env.messageCount(t, second.ID)
	if _, err := env.app.SendMessage(context.Background(), "u1", second.ID, "Write a slogan"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := env.messageCount(t, second.ID); got != before {
		t.Fatalf("rejected send persisted %d messages", got-before)
	}
	env.copy.mu.Lock()
	calls := len(env.copy.calls)
	env.copy.mu.Unlock()
	if calls != 1 {
		t.Fatalf("generate-copy calls = %d, want 1", calls)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if got := env.balance(t, "u1"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestSendChecksRemoteBalance(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	p := env.seed(t, "u1", 3)
	if err := env.store.SetCredits("u1", 0); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	before := env.messageCount(t, p.ID)

	if _, err := env.app.SendMessage(context.Background(), "u1", p.ID, "Write a tagline"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := env.messageCount(t, p.ID) - before; got != 0 {
		t.Fatalf("new messages = %d, want 0", got)
	}
	cached, _, _ := env.cache.GetUser("u1")
	if cached.Credits != 0 {
		t.Fatalf("cached balance = %d, want refreshed 0", cached.Credits)
	}
}

// blockingDeleteStore parks DeleteProject until release is closed.
type blockingDeleteStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s blockingDeleteStore) DeleteProject(id string) error {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStore.DeleteProject(id)
}

func TestDeleteProjectHoldsSession(t *testing.T) {
	blocking := blockingDeleteStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	env := newTestEnv(t, func(m *store.MemoryStore) store.Store {
		blocking.MemoryStore = m
		return blocking
	}, nil)
	p := env.seed(t, "u1", 2)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- env.app.DeleteProject(ctx, "u1", p.ID) }()
	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("delete never reached the store")
	}

	before := env.messageCount(t, p.ID)
	if _, err := env.app.SendMessage(ctx, "u1", p.ID, "Write a headline"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("send during delete err = %v, want ErrSessionBusy", err)
	}
	if got := env.messageCount(t, p.ID); got != before {
		t.Fatalf("send during delete persisted a message")
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.app.SendMessage(ctx, "u1", p.ID, "Write a headline"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("send after delete err = %v, want ErrProjectNotFound", err)
	}
	if got := env.app.SessionState("u1", p.ID); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}
