package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"copysensei/internal/util"
	"copysensei/pkg/classify"
	"copysensei/pkg/domain"
	"copysensei/pkg/events"
	"copysensei/pkg/functions"
	"copysensei/pkg/store"
)

const creditsPerGeneration = 1

var citationPattern = regexp.MustCompile(`\s*\[\d+(?:\s*,\s*\d+)*\]`)

// SendResult is the outcome of one delivered send.
type SendResult struct {
	UserMessage      domain.ChatMessage `json:"userMessage"`
	AssistantMessage domain.ChatMessage `json:"assistantMessage"`
	Billable         bool               `json:"billable"`
	Credits          int                `json:"credits"`
	// Advisory is set when low-value chat was let through.
	Advisory string `json:"advisory,omitempty"`
}

// SendMessage classifies text, records the user turn, asks generate-copy for
// a reply and records it, charging one credit for billable requests.
func (a *App) SendMessage(ctx context.Context, userID, projectID, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}
	user, err := a.resolveUser(userID)
	if err != nil {
		return SendResult{}, err
	}
	project, err := a.resolveProject(user.ID, projectID)
	if err != nil {
		return SendResult{}, err
	}

	key := sessionKey{userID: user.ID, projectID: project.ID}
	prev, ok := a.sessions.acquire(key)
	if !ok {
		return SendResult{}, ErrSessionBusy
	}
	final := prev
	defer func() { a.sessions.finish(key, final) }()
	if project, err = a.resolveProject(user.ID, project.ID); err != nil {
		return SendResult{}, err
	}

	logger := util.LoggerFromContext(ctx).With("user_id", user.ID, "project_id", project.ID)

	class := classify.Classify(text)
	var advisory string
	if class.LowValue {
		if a.policy == classify.PolicyBlock {
			return SendResult{}, &LowValueError{Advisory: classify.LowValueAdvisory}
		}
		advisory = classify.LowValueAdvisory
	}
	if class.Billable {
		remote, ok, err := a.store.GetUser(user.ID)
		if err != nil {
			return SendResult{}, fmt.Errorf("load user: %w", err)
		}
		if !ok {
			return SendResult{}, ErrUserNotFound
		}
		user.Credits = remote.Credits
		if err := a.cache.SetCredits(user.ID, user.Credits); err != nil {
			logger.Warn("cache: set credits failed", "err", err)
		}
		if !a.sessions.reserve(user.ID, user.Credits, creditsPerGeneration) {
			return SendResult{}, ErrInsufficientCredits
		}
		defer a.sessions.release(user.ID, creditsPerGeneration)
	}

	history, err := a.history(user.ID, project.ID)
	if err != nil {
		return SendResult{}, err
	}

	userMsg := domain.ChatMessage{
		ID:        util.NewID(),
		ProjectID: project.ID,
		Role:      domain.RoleUser,
		Content:   text,
		Kind:      class.Kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return SendResult{}, fmt.Errorf("save user message: %w", err)
	}
	a.cacheMessage(logger, user.ID, userMsg)
	final = StateFailed

	req := functions.CopyRequest{
		Messages: append(history, functions.Message{Role: string(domain.RoleUser), Content: text}),
		Context: functions.CopyContext{
			ToneOfVoice:   string(project.Tone),
			ResearchData:  project.ResearchData,
			CustomNotes:   project.CustomNotes,
			StrategyBrief: project.StrategyBrief,
		},
	}
	raw, err := a.copy.GenerateCopy(ctx, req)
	if err != nil {
		logger.Warn("generate-copy failed", "err", err)
		return SendResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	reply := StripCitations(raw)
	if reply == "" {
		return SendResult{}, fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}

	assistant := domain.ChatMessage{
		ID:        util.NewID(),
		ProjectID: project.ID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		Kind:      class.Kind,
		CreatedAt: time.Now().UTC(),
	}
	balance := user.Credits
	if class.Billable {
		assistant.CreditsUsed = creditsPerGeneration
		gen := domain.CopyGeneration{
			ID:            util.NewID(),
			ProjectID:     project.ID,
			Prompt:        text,
			GeneratedCopy: reply,
			CreditsUsed:   creditsPerGeneration,
			CreatedAt:     assistant.CreatedAt,
		}
		balance, err = a.recordBilled(ctx, logger, user, assistant, gen)
		if err != nil {
			return SendResult{}, err
		}
	} else {
		if err := a.store.AppendMessage(assistant); err != nil {
			return SendResult{}, fmt.Errorf("save assistant message: %w", err)
		}
		a.cacheMessage(logger, user.ID, assistant)
	}

	final = StateDelivered
	return SendResult{
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Billable:         class.Billable,
		Credits:          balance,
		Advisory:         advisory,
	}, nil
}

// recordBilled persists a billed reply with its generation row and charges
// the user. Stores with BillingRecorder commit all three atomically; others
// write the reply first and charge afterwards.
func (a *App) recordBilled(ctx context.Context, logger *slog.Logger, user domain.User, reply domain.ChatMessage, gen domain.CopyGeneration) (int, error) {
	var balance int
	charged := true
	if rec, ok := a.store.(store.BillingRecorder); ok {
		var err error
		balance, err = rec.RecordBilledReply(user.ID, reply, gen, creditsPerGeneration)
		if err != nil {
			if errors.Is(err, store.ErrInsufficientCredits) {
				return 0, ErrInsufficientCredits
			}
			return 0, fmt.Errorf("record billed reply: %w", err)
		}
	} else {
		if err := a.store.AppendMessage(reply); err != nil {
			return 0, fmt.Errorf("save assistant message: %w", err)
		}
		if err := a.store.AppendGeneration(gen); err != nil {
			logger.Warn("save generation failed", "generation_id", gen.ID, "err", err)
		}
		var err error
		balance, err = a.store.ChargeCredits(user.ID, creditsPerGeneration)
		if err != nil {
			logger.Warn("charge after delivered reply failed",
				"reconcile", true,
				"message_id", reply.ID,
				"credits", creditsPerGeneration,
				"err", err)
			balance = user.Credits
			charged = false
		}
	}

	a.cacheMessage(logger, user.ID, reply)
	if err := a.cache.AppendGeneration(user.ID, gen); err != nil {
		logger.Warn("cache: append generation failed", "err", err)
	}
	if err := a.cache.SetCredits(user.ID, balance); err != nil {
		logger.Warn("cache: set credits failed", "err", err)
	}
	if charged {
		if err := a.events.Publish(ctx, events.CreditCharged{
			UserID:       user.ID,
			ProjectID:    reply.ProjectID,
			MessageID:    reply.ID,
			GenerationID: gen.ID,
			Amount:       creditsPerGeneration,
			Balance:      balance,
			ChargedAt:    time.Now().UTC(),
		}); err != nil {
			logger.Warn("publish credit event failed", "err", err)
		}
	}
	return balance, nil
}

// history returns the last historyLimit user and assistant turns.
func (a *App) history(userID, projectID string) ([]functions.Message, error) {
	if a.historyLimit == 0 {
		return nil, nil
	}
	msgs, err := a.ListMessages(userID, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]functions.Message, 0, a.historyLimit+1)
	for _, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		out = append(out, functions.Message{Role: string(m.Role), Content: m.Content})
	}
	if len(out) > a.historyLimit {
		out = out[len(out)-a.historyLimit:]
	}
	return out, nil
}

// StripCitations removes bracketed numeric references such as [1], [2, 3]
// or [4][5] and trims surrounding whitespace.
func StripCitations(text string) string {
	return strings.TrimSpace(citationPattern.ReplaceAllString(text, ""))
}

// cacheMessage mirrors a message the store already holds. An unhydrated
// transcript is copied in full instead, which includes msg.
func (a *App) cacheMessage(logger *slog.Logger, userID string, msg domain.ChatMessage) {
	hydrated, err := a.cache.MessagesHydrated(userID, msg.ProjectID)
	if err != nil {
		logger.Warn("cache: read messages failed", "err", err)
		return
	}
	if !hydrated {
		if _, err := a.loadMessages(userID, msg.ProjectID); err != nil {
			logger.Warn("cache: hydrate messages failed", "err", err)
		}
		return
	}
	if err := a.cache.AppendMessage(userID, msg); err != nil {
		logger.Warn("cache: append message failed", "message_id", msg.ID, "err", err)
	}
}
