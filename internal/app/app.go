// Package app composes the session, upload and chat controllers and owns the
// state derived from them: which panel is showing and which document is
// active.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/chat"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/logging"
	"github.com/dharsanguruparan/ragctl/internal/model"
	"github.com/dharsanguruparan/ragctl/internal/session"
	"github.com/dharsanguruparan/ragctl/internal/upload"
)

// ViewState is the published view of the orchestrator.
type ViewState struct {
	View       model.View  `json:"view"`
	Panel      model.Panel `json:"panel"`
	DocumentID *int64      `json:"document_id,omitempty"`
	Username   string      `json:"username,omitempty"`
}

// App is the orchestrator. Only a confirmed upload sets the active document
// and only logout clears it.
type App struct {
	sessions  *session.Store
	uploads   *upload.Controller
	chats     *chat.Controller
	publisher events.Publisher
	logger    *zap.Logger

	mu         sync.RWMutex
	panel      model.Panel
	documentID *int64
}

// Option customizes an App.
type Option func(*App)

// WithPublisher sends view snapshots to p on every change.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = logging.OrNop(l) }
}

// New wires the controllers together. The upload panel is shown first.
func New(sessions *session.Store, uploads *upload.Controller, chats *chat.Controller, opts ...Option) *App {
	a := &App{
		sessions:  sessions,
		uploads:   uploads,
		chats:     chats,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		panel:     model.PanelUpload,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("app")
	uploads.OnDocumentReady(a.documentReady)
	sessions.OnLogout(a.loggedOut)
	return a
}

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// Uploads returns the upload controller.
func (a *App) Uploads() *upload.Controller { return a.uploads }

// Chat returns the chat controller.
func (a *App) Chat() *chat.Controller { return a.chats }

// State returns a snapshot of the derived state.
func (a *App) State() ViewState {
	sess, signedIn := a.sessions.Current()
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := ViewState{Panel: a.panel, View: model.ViewLogin}
	if !signedIn {
		return st
	}
	st.Username = sess.Username
	st.View = model.View(a.panel)
	if a.documentID != nil {
		id := *a.documentID
		st.DocumentID = &id
	}
	return st
}

// View reports what should be drawn: the login form or the active panel.
func (a *App) View() model.View {
	return a.State().View
}

// ActivePanel reports the selected panel, regardless of authentication.
func (a *App) ActivePanel() model.Panel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.panel
}

// ActiveDocumentID returns the document chat questions are asked about.
func (a *App) ActiveDocumentID() (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.documentID == nil {
		return 0, false
	}
	return *a.documentID, true
}

// ShowPanel switches panels on explicit user navigation.
func (a *App) ShowPanel(p model.Panel) error {
	if p != model.PanelUpload && p != model.PanelChat {
		return fmt.Errorf("unknown panel %q", p)
	}
	if _, ok := a.sessions.Current(); !ok {
		return session.ErrNotAuthenticated
	}
	a.mu.Lock()
	changed := a.panel != p
	a.panel = p
	a.mu.Unlock()
	if changed {
		a.publish()
	}
	return nil
}

// Login signs in and shows the upload panel. No earlier document is
// restored. Signing in over a live session discards that session's document,
// transcript and upload the same way a logout does.
func (a *App) Login(ctx context.Context, username, password string) (model.Session, error) {
	prev, hadSession := a.sessions.Current()
	sess, err := a.sessions.Login(ctx, username, password)
	if err != nil {
		return sess, err
	}
	if hadSession {
		a.logger.Info("replacing signed-in session",
			zap.String("previous", prev.Username), zap.String("username", sess.Username))
		a.discardTransient()
	}
	a.mu.Lock()
	a.panel = model.PanelUpload
	a.mu.Unlock()
	a.publish()
	return sess, nil
}

// Restore signs in from the persisted record, if there is one.
func (a *App) Restore(ctx context.Context) bool {
	_, ok := a.sessions.Restore(ctx)
	if ok {
		a.publish()
	}
	return ok
}

// Logout signs out. The logout listener does the clean-up.
func (a *App) Logout(ctx context.Context) error {
	return a.sessions.Logout(ctx)
}

// Upload submits a file through the upload controller.
func (a *App) Upload(ctx context.Context, f upload.File, src upload.Source) error {
	return a.uploads.Submit(ctx, f, src)
}

// Ask sends a question through the chat controller.
func (a *App) Ask(ctx context.Context, question string) error {
	return a.chats.Ask(ctx, question)
}

func (a *App) documentReady(doc model.Document) {
	if _, ok := a.sessions.Current(); !ok {
		// The upload finished after a logout.
		a.logger.Info("dropping document from signed-out session", zap.Int64("document_id", doc.ID))
		return
	}
	id := doc.ID
	a.mu.Lock()
	a.documentID = &id
	a.panel = model.PanelChat
	a.mu.Unlock()
	a.chats.SetDocument(id)
	a.logger.Info("document active", zap.Int64("document_id", id), zap.String("filename", doc.Filename))
	a.publish()
}

func (a *App) loggedOut() {
	a.discardTransient()
	a.publish()
}

// discardTransient forgets everything tied to the signed-in user. An upload
// still in flight is abandoned so its result cannot land in a later session.
func (a *App) discardTransient() {
	a.mu.Lock()
	a.documentID = nil
	a.panel = model.PanelUpload
	a.mu.Unlock()
	a.chats.ClearDocument()
	a.chats.Reset()
	a.uploads.Abandon()
}

func (a *App) publish() {
	a.publisher.Publish(events.TopicView, a.State())
}
