// Package agent runs conversation turns: it loads thread history, runs the
// reasoning engine and appends the exchange to the conversation store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/reasoning"
	"github.com/kadirpekel/reagent/pkg/session"
)

// ErrEmptyMessage is returned for turns without user text.
var ErrEmptyMessage = errors.New("message cannot be empty")

// saveTimeout bounds persistence after the turn context is gone.
const saveTimeout = 10 * time.Second

// Runner is the reasoning engine.
type Runner interface {
	Run(ctx context.Context, query string, history []llms.Message, observe reasoning.Observer) (*reasoning.AgentState, error)
}

type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type ChatResponse struct {
	Response   string                    `json:"response"`
	ThreadID   string                    `json:"thread_id"`
	Messages   []session.Message         `json:"messages"`
	Outcome    reasoning.Outcome         `json:"outcome"`
	Trace      []reasoning.TimelineEntry `json:"trace"`
	Provider   string                    `json:"provider,omitempty"`
	Model      string                    `json:"model,omitempty"`
	Iterations int                       `json:"iterations"`

	// PersistError is set when the exchange could not be saved. The answer
	// is still valid and the client may retry saving it.
	PersistError error `json:"-"`
}

// TurnError is returned for turns that produced no answer.
type TurnError struct {
	ThreadID string
	Outcome  reasoning.Outcome
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s on thread %s: %v", e.Outcome, e.ThreadID, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Service is the turn service shared by the HTTP surface and the CLI.
type Service struct {
	engine Runner
	store  session.Store
	logger *slog.Logger
}

func NewService(engine Runner, store session.Store) *Service {
	return &Service{
		engine: engine,
		store:  store,
		logger: slog.Default().With("component", "agent"),
	}
}

// Chat runs one turn. Failed turns return a *TurnError and are not stored.
// Stopped turns return both the partial response and a *TurnError wrapping
// reasoning.ErrStopped; the user message and a metadata-only assistant
// record are stored for them.
func (s *Service) Chat(ctx context.Context, req ChatRequest, observe reasoning.Observer) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = session.NewThreadID()
	}
	logger := s.logger.With("thread_id", threadID)

	history, err := s.store.Load(ctx, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TurnError{ThreadID: threadID, Outcome: reasoning.OutcomeStopped, Err: fmt.Errorf("%w: %w", reasoning.ErrStopped, ctx.Err())}
		}
		logger.Warn("Failed to load history, continuing without it", "error", err)
		history = nil
	}

	logger.Info("Processing message", "preview", preview(message, 100), "history", len(history))
	st, runErr := s.engine.Run(ctx, message, toLLMHistory(history), observe)

	if runErr != nil && !errors.Is(runErr, reasoning.ErrStopped) {
		logger.Error("Turn failed", "error", runErr)
		return nil, &TurnError{ThreadID: threadID, Outcome: reasoning.OutcomeFailed, Err: runErr}
	}

	resp := &ChatResponse{
		Response:   st.FinalAnswer,
		ThreadID:   threadID,
		Outcome:    st.Outcome,
		Trace:      st.Timeline(),
		Provider:   st.Provider,
		Model:      st.Model,
		Iterations: st.CurrentStep,
	}

	exchange := []session.Message{
		{Role: session.RoleUser, Content: message},
		{Role: session.RoleAssistant, Content: st.FinalAnswer, Metadata: assistantMetadata(st, resp.Trace)},
	}
	if st.Outcome == reasoning.OutcomeStopped {
		// Only the outcome survives; partial tool results are not stored.
		exchange[1] = session.Message{
			Role:     session.RoleAssistant,
			Metadata: map[string]any{"outcome": string(reasoning.OutcomeStopped)},
		}
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := s.store.Append(saveCtx, threadID, exchange...); err != nil {
		logger.Error("Failed to persist turn", "error", err)
		if !errors.Is(err, session.ErrPersistence) {
			err = fmt.Errorf("%w: %w", session.ErrPersistence, err)
		}
		resp.PersistError = err
		resp.Messages = append(append([]session.Message{}, history...), exchange...)
	} else if resp.Messages, err = s.store.Load(saveCtx, threadID); err != nil {
		logger.Warn("Failed to reload thread", "error", err)
		resp.Messages = append(append([]session.Message{}, history...), exchange...)
	}

	if runErr != nil {
		return resp, &TurnError{ThreadID: threadID, Outcome: reasoning.OutcomeStopped, Err: runErr}
	}
	return resp, nil
}

func assistantMetadata(st *reasoning.AgentState, trace []reasoning.TimelineEntry) map[string]any {
	meta := map[string]any{
		"outcome":    string(st.Outcome),
		"trace":      trace,
		"iterations": st.CurrentStep,
	}
	if st.Provider != "" {
		meta["provider"] = st.Provider
		meta["model"] = st.Model
	}
	return meta
}

// toLLMHistory drops metadata-only records left by stopped turns.
func toLLMHistory(msgs []session.Message) []llms.Message {
	out := make([]llms.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llms.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// History returns a stored thread.
func (s *Service) History(ctx context.Context, threadID string) (*session.Thread, error) {
	return s.store.Get(ctx, threadID)
}

// Threads lists stored threads, most recent first.
func (s *Service) Threads(ctx context.Context) ([]session.ThreadSummary, error) {
	return s.store.ListThreads(ctx)
}

func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.store.Delete(ctx, threadID); err != nil {
		return err
	}
	s.logger.Info("Deleted thread", "thread_id", threadID)
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
