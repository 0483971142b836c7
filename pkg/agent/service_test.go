package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/reasoning"
	"github.com/kadirpekel/reagent/pkg/session"
)

type stubRunner struct {
	run     func(ctx context.Context, query string, history []llms.Message) (*reasoning.AgentState, error)
	history [][]llms.Message
}

func (s *stubRunner) Run(ctx context.Context, query string, history []llms.Message, _ reasoning.Observer) (*reasoning.AgentState, error) {
	s.history = append(s.history, history)
	return s.run(ctx, query, history)
}

func answered(answer string) func(context.Context, string, []llms.Message) (*reasoning.AgentState, error) {
	return func(context.Context, string, []llms.Message) (*reasoning.AgentState, error) {
		return &reasoning.AgentState{
			FinalAnswer: answer,
			Outcome:     reasoning.OutcomeAnswered,
			Done:        true,
			CurrentStep: 1,
			Provider:    "primary",
			Model:       "m1",
			Steps:       []reasoning.ReasoningStep{{Step: 1, Action: reasoning.ActionFinalAnswer}},
		}, nil
	}
}

type failingStore struct{ *session.MemoryStore }

func (failingStore) Append(context.Context, string, ...session.Message) error {
	return errors.New("disk full")
}

func TestService_ChatPersistsExchange(t *testing.T) {
	store := session.NewMemoryStore()
	runner := &stubRunner{run: answered("Paris")}
	svc := NewService(runner, store)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "Capital of France?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Paris", resp.Response)
	assert.Regexp(t, `^thread_[0-9a-f]{16}$`, resp.ThreadID)
	assert.Equal(t, reasoning.OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "primary", resp.Provider)
	assert.Len(t, resp.Trace, 1)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, session.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "Paris", resp.Messages[1].Content)
	assert.Equal(t, "answered", resp.Messages[1].Metadata["outcome"])
	assert.Equal(t, "m1", resp.Messages[1].Metadata["model"])

	resp2, err := svc.Chat(context.Background(), ChatRequest{Message: "And Spain?", ThreadID: resp.ThreadID}, nil)
	require.NoError(t, err)
	assert.Len(t, resp2.Messages, 4)
	require.Len(t, runner.history, 2)
	assert.Equal(t, []llms.Message{
		{Role: llms.RoleUser, Content: "Capital of France?"},
		{Role: llms.RoleAssistant, Content: "Paris"},
	}, runner.history[1])
}

func TestService_ChatRejectsEmpty(t *testing.T) {
	svc := NewService(&stubRunner{run: answered("x")}, session.NewMemoryStore())
	_, err := svc.Chat(context.Background(), ChatRequest{Message: "   "}, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestService_ChatFailedTurnIsNotStored(t *testing.T) {
	store := session.NewMemoryStore()
	cause := &llms.ExhaustedError{}
	svc := NewService(&stubRunner{run: func(context.Context, string, []llms.Message) (*reasoning.AgentState, error) {
		return &reasoning.AgentState{Outcome: reasoning.OutcomeFailed}, cause
	}}, store)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "hi", ThreadID: "t1"}, nil)
	assert.Nil(t, resp)
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, reasoning.OutcomeFailed, turnErr.Outcome)
	assert.Equal(t, "t1", turnErr.ThreadID)
	assert.ErrorIs(t, err, llms.ErrAllProvidersExhausted)

	msgs, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestService_ChatStoppedTurnKeepsOutcomeOnly(t *testing.T) {
	store := session.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(&stubRunner{run: func(ctx context.Context, _ string, _ []llms.Message) (*reasoning.AgentState, error) {
		cancel()
		return &reasoning.AgentState{Outcome: reasoning.OutcomeStopped, CurrentStep: 1},
			errors.Join(reasoning.ErrStopped, ctx.Err())
	}}, store)

	resp, err := svc.Chat(ctx, ChatRequest{Message: "long task", ThreadID: "t2"}, nil)
	require.ErrorIs(t, err, reasoning.ErrStopped)
	require.NotNil(t, resp)
	assert.Equal(t, reasoning.OutcomeStopped, resp.Outcome)

	msgs, err := store.Load(context.Background(), "t2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "long task", msgs[0].Content)
	assert.Empty(t, msgs[1].Content)
	assert.Equal(t, "stopped", msgs[1].Metadata["outcome"])
	assert.Nil(t, msgs[1].Metadata["trace"])

	// The outcome-only record is not replayed as history.
	assert.Empty(t, toLLMHistory(msgs)[1:])
}

func TestService_ChatReportsPersistFailure(t *testing.T) {
	svc := NewService(&stubRunner{run: answered("42")}, failingStore{session.NewMemoryStore()})

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "answer?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", resp.Response)
	assert.ErrorIs(t, resp.PersistError, session.ErrPersistence)
	assert.Len(t, resp.Messages, 2)
}

func TestService_ThreadOperations(t *testing.T) {
	store := session.NewMemoryStore()
	svc := NewService(&stubRunner{run: answered("ok")}, store)
	ctx := context.Background()

	_, err := svc.Chat(ctx, ChatRequest{Message: "one", ThreadID: "a"}, nil)
	require.NoError(t, err)

	threads, err := svc.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 2, threads[0].MessageCount)

	th, err := svc.History(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, th.Messages, 2)

	require.NoError(t, svc.DeleteThread(ctx, "a"))
	_, err = svc.History(ctx, "a")
	assert.ErrorIs(t, err, session.ErrThreadNotFound)
	assert.ErrorIs(t, svc.DeleteThread(ctx, "a"), session.ErrThreadNotFound)
}
