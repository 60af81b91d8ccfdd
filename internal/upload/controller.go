// Package upload drives a single PDF upload from selection to a confirmed
// document id.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/logging"
	"github.com/dharsanguruparan/ragctl/internal/model"
	pdfutil "github.com/dharsanguruparan/ragctl/internal/pdf"
)

// DefaultMaxBytes is the largest file the server accepts.
const DefaultMaxBytes int64 = 50 << 20

var (
	// ErrNotPDF is returned for picked files whose content type is not PDF.
	ErrNotPDF = errors.New("only PDF files can be uploaded")
	// ErrUploadInProgress is returned when a second upload is submitted
	// while one is in flight.
	ErrUploadInProgress = errors.New("an upload is already in progress")
	// ErrFileTooLarge is returned for files above the configured limit.
	ErrFileTooLarge = errors.New("file exceeds the upload size limit")
	// ErrAbandoned is returned by a Submit whose upload was abandoned
	// before the server answered.
	ErrAbandoned = errors.New("upload abandoned")
)

// Source says how the user chose the file.
type Source int

const (
	// SourceDrop is a drag-and-drop; non-PDF drops are ignored.
	SourceDrop Source = iota
	// SourcePicker is an explicit selection; non-PDF picks are rejected.
	SourcePicker
)

func (s Source) String() string {
	if s == SourceDrop {
		return "drop"
	}
	return "picker"
}

// File is a candidate for upload. Open is called once per accepted submit.
type File struct {
	Name        string
	ContentType string
	Size        int64
	// Pages is informational; zero when unknown.
	Pages       int
	Open        func() (io.ReadCloser, error)
}

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token() (string, error)
}

// Uploader performs the multipart request.
type Uploader interface {
	Upload(ctx context.Context, token string, up apiclient.UploadRequest) (*apiclient.UploadResponse, error)
}

// Controller owns the upload state machine:
// Idle -> Uploading -> Success | Error, and back to Idle on Reset or Abandon.
type Controller struct {
	uploader  Uploader
	tokens    TokenSource
	publisher events.Publisher
	logger    *zap.Logger
	maxBytes  int64

	mu       sync.Mutex
	state    model.UploadState
	attempt  uint64
	handlers []func(model.Document)
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPublisher sends upload snapshots to p on every change.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(l) }
}

// WithMaxBytes overrides DefaultMaxBytes. Zero or negative disables the check.
func WithMaxBytes(n int64) Option {
	return func(c *Controller) { c.maxBytes = n }
}

// NewController constructs an idle Controller.
func NewController(uploader Uploader, tokens TokenSource, opts ...Option) *Controller {
	c := &Controller{
		uploader:  uploader,
		tokens:    tokens,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		maxBytes:  DefaultMaxBytes,
		state:     model.UploadState{Status: model.UploadIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("upload")
	return c
}

// State returns a snapshot of the controller.
func (c *Controller) State() model.UploadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnDocumentReady registers fn to receive every confirmed document.
func (c *Controller) OnDocumentReady(fn func(model.Document)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Submit uploads f. Precondition failures leave the state untouched; a
// dropped non-PDF file is ignored without error. Once accepted, the call
// blocks until the upload settles in Success or Error and returns the
// failure, if any, as an *Error.
func (c *Controller) Submit(ctx context.Context, f File, src Source) error {
	c.mu.Lock()
	if c.state.Status == model.UploadUploading {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	c.mu.Unlock()

	if !pdfutil.IsPDF(f.ContentType) {
		if src == SourceDrop {
			c.logger.Debug("ignored non-pdf drop", zap.String("filename", f.Name), zap.String("content_type", f.ContentType))
			return nil
		}
		return ErrNotPDF
	}
	if c.maxBytes > 0 && f.Size > c.maxBytes {
		return ErrFileTooLarge
	}
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}
	body, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer body.Close()

	// Checked again: another Submit may have started while this one was
	// opening the file.
	c.mu.Lock()
	if c.state.Status == model.UploadUploading {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	c.attempt++
	attempt := c.attempt
	c.state = model.UploadState{Status: model.UploadUploading, Filename: f.Name}
	c.mu.Unlock()
	c.publish()

	c.logger.Info("upload started",
		zap.String("filename", f.Name),
		zap.Int64("size", f.Size),
		zap.Int("pages", f.Pages),
		zap.Stringer("source", src),
	)
	resp, err := c.uploader.Upload(ctx, token, apiclient.UploadRequest{
		Filename:    f.Name,
		ContentType: f.ContentType,
		Size:        f.Size,
		Body:        body,
		Progress:    func(sent, total int64) { c.progress(attempt, sent, total) },
	})
	if err != nil {
		msg := apiclient.UserMessage(err, apiclient.FallbackUpload)
		c.mu.Lock()
		if c.attempt != attempt {
			c.mu.Unlock()
			c.logger.Info("dropping failure of abandoned upload", zap.String("filename", f.Name), zap.Error(err))
			return ErrAbandoned
		}
		c.state = model.UploadState{Status: model.UploadError, Error: msg}
		c.mu.Unlock()
		c.logger.Warn("upload failed", zap.String("filename", f.Name), zap.Error(err))
		c.publish()
		return &Error{Message: msg, Err: err}
	}

	doc := model.Document{ID: resp.DocumentID, Filename: resp.Filename}
	if doc.Filename == "" {
		doc.Filename = f.Name
	}
	c.mu.Lock()
	// Abandon bumped the attempt while the request was out. The server may
	// have stored the file, but this controller no longer speaks for it.
	if c.attempt != attempt {
		c.mu.Unlock()
		c.logger.Info("dropping result of abandoned upload", zap.String("filename", doc.Filename), zap.Int64("document_id", doc.ID))
		return ErrAbandoned
	}
	c.state = model.UploadState{Status: model.UploadSuccess, Progress: 100, Filename: doc.Filename}
	handlers := append([]func(model.Document){}, c.handlers...)
	c.mu.Unlock()
	c.logger.Info("upload finished", zap.String("filename", doc.Filename), zap.Int64("document_id", doc.ID))
	c.publish()

	for _, fn := range handlers {
		fn(doc)
	}
	return nil
}

// progress records transport progress for the given attempt. Reports
// arriving after the attempt settled are dropped, and 100 is reserved for
// the server's confirmation.
func (c *Controller) progress(attempt uint64, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 100 / total)
	if pct > 99 {
		pct = 99
	}
	c.mu.Lock()
	// The transport keeps reporting until the request body is drained, so a
	// late report can belong to an attempt that already settled.
	if c.attempt != attempt || c.state.Status != model.UploadUploading || pct <= c.state.Progress {
		c.mu.Unlock()
		return
	}
	c.state.Progress = pct
	c.mu.Unlock()
	c.publish()
}

// Reset returns a settled controller to Idle. It does nothing while an
// upload is in flight.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state.Status == model.UploadUploading {
		c.mu.Unlock()
		return
	}
	changed := c.state.Status != model.UploadIdle
	c.state = model.UploadState{Status: model.UploadIdle}
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

// Abandon forces the controller back to Idle, even mid-upload. The request
// in flight is not cancelled but its outcome is discarded: no state change
// and no document-ready notification.
func (c *Controller) Abandon() {
	c.mu.Lock()
	c.attempt++
	changed := c.state.Status != model.UploadIdle
	c.state = model.UploadState{Status: model.UploadIdle}
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

func (c *Controller) publish() {
	c.publisher.Publish(events.TopicUpload, c.State())
}

// Error is a failed upload. Message is safe to show.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }
