// Package chat keeps the question/answer transcript for the active document.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/logging"
	"github.com/dharsanguruparan/ragctl/internal/model"
)

// Greeting seeds every transcript. It is local only and never sent.
const Greeting = "Hello! I'm your AI assistant. Ask me anything about your uploaded documents."

// NoAnswer replaces an answer the server left out.
const NoAnswer = "No answer returned from server."

// NoDocumentMessage is shown when a question is asked before any upload.
const NoDocumentMessage = "Please upload a document first before chatting."

var (
	// ErrNoDocument is wrapped by the *Error Ask returns when no document is
	// active.
	ErrNoDocument = errors.New("no active document")
	// ErrRequestInFlight is returned while another question is pending.
	ErrRequestInFlight = errors.New("a chat request is already in progress")
)

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token() (string, error)
}

// Asker performs one stateless chat request.
type Asker interface {
	Chat(ctx context.Context, token, question string, documentID int64) (*apiclient.ChatResponse, error)
}

// Controller owns the transcript and the single in-flight request.
type Controller struct {
	asker     Asker
	tokens    TokenSource
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	documentID *int64
	pending    bool
	epoch      uint64
	lastError  string
	transcript []model.Message
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPublisher sends chat snapshots to p on every change.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController constructs a Controller with the greeting transcript and no
// active document.
func NewController(asker Asker, tokens TokenSource, opts ...Option) *Controller {
	c := &Controller{
		asker:     asker,
		tokens:    tokens,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("chat")
	c.transcript = []model.Message{c.message(model.RoleAssistant, Greeting)}
	return c
}

func (c *Controller) message(role model.Role, content string) model.Message {
	return model.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
}

// State returns a snapshot with a copy of the transcript.
func (c *Controller) State() model.ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() model.ChatState {
	st := model.ChatState{
		Pending:    c.pending,
		Error:      c.lastError,
		Transcript: append([]model.Message(nil), c.transcript...),
	}
	if c.documentID != nil {
		id := *c.documentID
		st.DocumentID = &id
	}
	return st
}

// Transcript returns a copy of the messages in order.
func (c *Controller) Transcript() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.transcript...)
}

// DocumentID returns the active document, if any.
func (c *Controller) DocumentID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.documentID == nil {
		return 0, false
	}
	return *c.documentID, true
}

// SetDocument makes id the document questions are asked about.
func (c *Controller) SetDocument(id int64) {
	c.mu.Lock()
	c.documentID = &id
	c.lastError = ""
	c.mu.Unlock()
	c.publish()
}

// ClearDocument forgets the active document.
func (c *Controller) ClearDocument() {
	c.mu.Lock()
	c.documentID = nil
	c.mu.Unlock()
	c.publish()
}

// Ask sends question about the active document. The user message is
// appended before the request and kept even if the request fails; an
// assistant message is appended only on success. Failures are recorded in
// the state and returned as *Error.
func (c *Controller) Ask(ctx context.Context, question string) error {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	if c.documentID == nil {
		c.lastError = NoDocumentMessage
		c.mu.Unlock()
		c.publish()
		return &Error{Message: NoDocumentMessage, Err: ErrNoDocument}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		c.mu.Unlock()
		return nil
	}
	documentID := *c.documentID
	c.mu.Unlock()

	token, err := c.tokens.Token()
	if err != nil {
		msg := apiclient.UserMessage(err, apiclient.FallbackChat)
		c.mu.Lock()
		c.lastError = msg
		c.mu.Unlock()
		c.logger.Info("chat without session", zap.Error(err))
		c.publish()
		return &Error{Message: msg, Err: err}
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrRequestInFlight
	}
	c.transcript = append(c.transcript, c.message(model.RoleUser, question))
	c.pending = true
	c.lastError = ""
	epoch := c.epoch
	c.mu.Unlock()
	c.publish()

	resp, err := c.asker.Chat(ctx, token, question, documentID)

	c.mu.Lock()
	// Reset bumps the epoch and already cleared pending, so a stale answer
	// must not touch the new transcript or the flag of a newer request.
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.pending = false
	if err != nil {
		msg := apiclient.UserMessage(err, apiclient.FallbackChat)
		c.lastError = msg
		c.mu.Unlock()
		c.logger.Warn("chat request failed", zap.Int64("document_id", documentID), zap.Error(err))
		c.publish()
		return &Error{Message: msg, Err: err}
	}
	answer := NoAnswer
	if resp != nil && resp.Answer != nil {
		answer = *resp.Answer
	}
	c.transcript = append(c.transcript, c.message(model.RoleAssistant, answer))
	c.mu.Unlock()
	c.logger.Debug("chat answered", zap.Int64("document_id", documentID), zap.Int("answer_len", len(answer)))
	c.publish()
	return nil
}

// Reset restores the greeting-only transcript and clears any error. A
// request still in flight is abandoned. The active document is left alone;
// the app clears it on logout.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.transcript = []model.Message{c.message(model.RoleAssistant, Greeting)}
	c.lastError = ""
	c.pending = false
	c.epoch++
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) publish() {
	c.publisher.Publish(events.TopicChat, c.State())
}

// Error is a failed chat request. Message is safe to show.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }
