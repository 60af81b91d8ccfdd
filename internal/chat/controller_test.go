package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/model"
)

type staticTokens string

func (s staticTokens) Token() (string, error) {
	if s == "" {
		return "", errors.New("not authenticated")
	}
	return string(s), nil
}

type call struct {
	token      string
	question   string
	documentID int64
}

type fakeAsker struct {
	mu      sync.Mutex
	calls   []call
	resp    *apiclient.ChatResponse
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeAsker) Chat(ctx context.Context, token, question string, documentID int64) (*apiclient.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{token, question, documentID})
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

func (f *fakeAsker) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func answer(s string) *apiclient.ChatResponse {
	return &apiclient.ChatResponse{Answer: &s}
}

func TestTranscriptStartsWithGreeting(t *testing.T) {
	c := NewController(&fakeAsker{}, staticTokens("tok"))
	msgs := c.Transcript()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, Greeting, msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestAskWithoutDocument(t *testing.T) {
	asker := &fakeAsker{resp: answer("x")}
	c := NewController(asker, staticTokens("tok"))

	err := c.Ask(context.Background(), "What is the summary?")
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Empty(t, asker.Calls())

	st := c.State()
	assert.Len(t, st.Transcript, 1)
	assert.Equal(t, "Please upload a document first before chatting.", st.Error)
	assert.Equal(t, st.Error, err.Error())
	assert.False(t, st.Pending)
}

func TestAskEmptyQuestionIsNoop(t *testing.T) {
	asker := &fakeAsker{resp: answer("x")}
	c := NewController(asker, staticTokens("tok"))
	c.SetDocument(42)

	require.NoError(t, c.Ask(context.Background(), "   \n"))
	assert.Empty(t, asker.Calls())
	assert.Len(t, c.Transcript(), 1)
}

func TestSuccessfulExchangeAppendsTwoMessages(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	asker := &fakeAsker{resp: answer("It is a summary.")}
	c := NewController(asker, staticTokens("tok"), WithClock(func() time.Time { return now }))
	c.SetDocument(42)

	require.NoError(t, c.Ask(context.Background(), "  What is the summary?  "))

	msgs := c.Transcript()
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, "What is the summary?", msgs[1].Content)
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "It is a summary.", msgs[2].Content)
	assert.Equal(t, now, msgs[2].Timestamp)
	assert.NotEqual(t, msgs[1].ID, msgs[2].ID)

	assert.Equal(t, []call{{"tok", "What is the summary?", 42}}, asker.Calls())
	assert.False(t, c.State().Pending)
}

func TestMissingAnswerUsesPlaceholder(t *testing.T) {
	c := NewController(&fakeAsker{resp: &apiclient.ChatResponse{}}, staticTokens("tok"))
	c.SetDocument(1)

	require.NoError(t, c.Ask(context.Background(), "hi"))
	msgs := c.Transcript()
	require.Len(t, msgs, 3)
	assert.Equal(t, NoAnswer, msgs[2].Content)
}

func TestFailedExchangeKeepsQuestionOnly(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server error field", &apiclient.APIError{StatusCode: 404, Message: "Document not found"}, "Document not found"},
		{"transport failure", errors.New("dial tcp: refused"), apiclient.FallbackChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(&fakeAsker{err: tt.err}, staticTokens("tok"))
			c.SetDocument(42)

			err := c.Ask(context.Background(), "What is the summary?")
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			st := c.State()
			require.Len(t, st.Transcript, 2)
			assert.Equal(t, model.RoleUser, st.Transcript[1].Role)
			assert.Equal(t, tt.want, st.Error)
			assert.False(t, st.Pending)
		})
	}
}

func TestServerErrorWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewController(apiclient.New(server.URL, 0, nil), staticTokens("tok"))
	c.SetDocument(42)

	err := c.Ask(context.Background(), "What is the summary?")
	require.Error(t, err)

	st := c.State()
	assert.Len(t, st.Transcript, 2)
	assert.Equal(t, "Chat request failed", st.Error)
	assert.False(t, st.Pending)
}

func TestSecondAskWhilePendingIsRejected(t *testing.T) {
	asker := &fakeAsker{
		resp:    answer("done"),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	c := NewController(asker, staticTokens("tok"))
	c.SetDocument(42)

	done := make(chan error, 1)
	go func() { done <- c.Ask(context.Background(), "first") }()
	<-asker.started

	assert.True(t, c.State().Pending)
	assert.ErrorIs(t, c.Ask(context.Background(), "second"), ErrRequestInFlight)

	close(asker.block)
	require.NoError(t, <-done)
	assert.Len(t, asker.Calls(), 1)
	assert.Len(t, c.Transcript(), 3)
}

func TestResetDropsInFlightAnswer(t *testing.T) {
	asker := &fakeAsker{
		resp:    answer("late"),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	c := NewController(asker, staticTokens("tok"))
	c.SetDocument(42)

	done := make(chan error, 1)
	go func() { done <- c.Ask(context.Background(), "question") }()
	<-asker.started

	c.Reset()
	close(asker.block)
	require.NoError(t, <-done)

	st := c.State()
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, Greeting, st.Transcript[0].Content)
	assert.False(t, st.Pending)
}

func TestAskRequiresToken(t *testing.T) {
	asker := &fakeAsker{resp: answer("x")}
	c := NewController(asker, staticTokens(""))
	c.SetDocument(1)

	err := c.Ask(context.Background(), "hi")
	require.Error(t, err)
	assert.Empty(t, asker.Calls())
	assert.Len(t, c.Transcript(), 1)

	st := c.State()
	assert.Equal(t, apiclient.FallbackChat, st.Error)
	assert.Equal(t, st.Error, err.Error())
	assert.False(t, st.Pending)
}

func TestDocumentLifecycle(t *testing.T) {
	c := NewController(&fakeAsker{}, staticTokens("tok"))
	_, ok := c.DocumentID()
	assert.False(t, ok)

	c.SetDocument(7)
	id, ok := c.DocumentID()
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	require.NotNil(t, c.State().DocumentID)
	assert.Equal(t, int64(7), *c.State().DocumentID)

	c.ClearDocument()
	_, ok = c.DocumentID()
	assert.False(t, ok)
	assert.Nil(t, c.State().DocumentID)
}

func TestTranscriptIsACopy(t *testing.T) {
	c := NewController(&fakeAsker{}, staticTokens("tok"))
	msgs := c.Transcript()
	msgs[0].Content = "changed"
	assert.Equal(t, Greeting, c.Transcript()[0].Content)
}
