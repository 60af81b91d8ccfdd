package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/model"
)

var errSignedOut = errors.New("not authenticated")

type staticTokens struct {
	token string
}

func (s staticTokens) Token() (string, error) {
	if s.token == "" {
		return "", errSignedOut
	}
	return s.token, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	size    int64
	resp    *apiclient.UploadResponse
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, token string, up apiclient.UploadRequest) (*apiclient.UploadResponse, error) {
	f.mu.Lock()
	f.calls++
	f.size = up.Size
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	io.Copy(io.Discard, up.Body)
	return f.resp, f.err
}

func (f *fakeUploader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	states []model.UploadState
}

func (r *recorder) Publish(topic string, payload any) {
	if topic != events.TopicUpload {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, payload.(model.UploadState))
}

func (r *recorder) Snapshot() []model.UploadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.UploadState(nil), r.states...)
}

func memFile(name, contentType, body string) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestNonPDFNeverLeavesIdle(t *testing.T) {
	up := &fakeUploader{resp: &apiclient.UploadResponse{DocumentID: 1}}
	rec := &recorder{}
	c := NewController(up, staticTokens{"tok"}, WithPublisher(rec))

	notes := memFile("notes.txt", "text/plain; charset=utf-8", "hello")

	require.NoError(t, c.Submit(context.Background(), notes, SourceDrop))
	assert.Equal(t, model.UploadIdle, c.State().Status)

	err := c.Submit(context.Background(), notes, SourcePicker)
	assert.ErrorIs(t, err, ErrNotPDF)
	assert.Equal(t, model.UploadIdle, c.State().Status)

	assert.Zero(t, up.Calls())
	assert.Empty(t, rec.Snapshot())
}

func TestSuccessfulUploadEmitsDocumentOnce(t *testing.T) {
	up := &fakeUploader{resp: &apiclient.UploadResponse{DocumentID: 42, Filename: "report.pdf"}}
	c := NewController(up, staticTokens{"tok"})

	var docs []model.Document
	c.OnDocumentReady(func(d model.Document) { docs = append(docs, d) })

	require.NoError(t, c.Submit(context.Background(), memFile("report.pdf", "application/pdf", "%PDF-1.4"), SourcePicker))

	assert.Equal(t, model.UploadState{Status: model.UploadSuccess, Progress: 100, Filename: "report.pdf"}, c.State())
	assert.Equal(t, []model.Document{{ID: 42, Filename: "report.pdf"}}, docs)
	up.mu.Lock()
	assert.Equal(t, int64(len("%PDF-1.4")), up.size)
	up.mu.Unlock()
}

func TestFilenameFallsBackToClientName(t *testing.T) {
	up := &fakeUploader{resp: &apiclient.UploadResponse{DocumentID: 7}}
	c := NewController(up, staticTokens{"tok"})

	var got model.Document
	c.OnDocumentReady(func(d model.Document) { got = d })

	require.NoError(t, c.Submit(context.Background(), memFile("local.pdf", "application/pdf", "%PDF"), SourceDrop))
	assert.Equal(t, "local.pdf", c.State().Filename)
	assert.Equal(t, model.Document{ID: 7, Filename: "local.pdf"}, got)
}

func TestUploadFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server error field", &apiclient.APIError{StatusCode: 400, Message: "No file uploaded"}, "No file uploaded"},
		{"transport failure", errors.New("connection reset"), apiclient.FallbackUpload},
		{"missing document id", apiclient.ErrMissingDocumentID, "Document id not found in response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(&fakeUploader{err: tt.err}, staticTokens{"tok"})
			called := false
			c.OnDocumentReady(func(model.Document) { called = true })

			err := c.Submit(context.Background(), memFile("report.pdf", "application/pdf", "%PDF"), SourcePicker)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, model.UploadState{Status: model.UploadError, Error: tt.want}, c.State())
			assert.False(t, called)
		})
	}
}

func TestSubmitRequiresToken(t *testing.T) {
	up := &fakeUploader{}
	c := NewController(up, staticTokens{})

	err := c.Submit(context.Background(), memFile("report.pdf", "application/pdf", "%PDF"), SourcePicker)
	assert.ErrorIs(t, err, errSignedOut)
	assert.Equal(t, model.UploadIdle, c.State().Status)
	assert.Zero(t, up.Calls())
}

func TestSubmitRejectsOversizedFile(t *testing.T) {
	up := &fakeUploader{}
	c := NewController(up, staticTokens{"tok"}, WithMaxBytes(3))

	err := c.Submit(context.Background(), memFile("big.pdf", "application/pdf", "%PDF-1.4"), SourcePicker)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, model.UploadIdle, c.State().Status)
	assert.Zero(t, up.Calls())
}

func TestSecondSubmitWhileUploadingIsRejected(t *testing.T) {
	up := &fakeUploader{
		resp:    &apiclient.UploadResponse{DocumentID: 1, Filename: "a.pdf"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	c := NewController(up, staticTokens{"tok"})

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), memFile("a.pdf", "application/pdf", "%PDF"), SourcePicker)
	}()
	<-up.started

	assert.Equal(t, model.UploadUploading, c.State().Status)
	err := c.Submit(context.Background(), memFile("b.pdf", "application/pdf", "%PDF"), SourcePicker)
	assert.ErrorIs(t, err, ErrUploadInProgress)

	c.Reset()
	assert.Equal(t, model.UploadUploading, c.State().Status)

	close(up.block)
	require.NoError(t, <-done)
	assert.Equal(t, model.UploadSuccess, c.State().Status)
	assert.Equal(t, 1, up.Calls())
}

func TestResetIsIdempotent(t *testing.T) {
	rec := &recorder{}
	c := NewController(&fakeUploader{err: errors.New("boom")}, staticTokens{"tok"}, WithPublisher(rec))
	_ = c.Submit(context.Background(), memFile("a.pdf", "application/pdf", "%PDF"), SourcePicker)
	require.Equal(t, model.UploadError, c.State().Status)

	c.Reset()
	first := c.State()
	published := len(rec.Snapshot())
	c.Reset()

	assert.Equal(t, model.UploadState{Status: model.UploadIdle}, first)
	assert.Equal(t, first, c.State())
	assert.Len(t, rec.Snapshot(), published)
}

func TestAbandonDiscardsInFlightUpload(t *testing.T) {
	up := &fakeUploader{
		resp:    &apiclient.UploadResponse{DocumentID: 7, Filename: "old.pdf"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	rec := &recorder{}
	c := NewController(up, staticTokens{"tok"}, WithPublisher(rec))
	var docs []model.Document
	c.OnDocumentReady(func(d model.Document) { docs = append(docs, d) })

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(context.Background(), memFile("old.pdf", "application/pdf", "%PDF"), SourcePicker)
	}()
	<-up.started

	c.Abandon()
	assert.Equal(t, model.UploadState{Status: model.UploadIdle}, c.State())

	close(up.block)
	assert.ErrorIs(t, <-done, ErrAbandoned)
	assert.Equal(t, model.UploadState{Status: model.UploadIdle}, c.State())
	assert.Empty(t, docs)

	states := rec.Snapshot()
	require.NotEmpty(t, states)
	assert.Equal(t, model.UploadIdle, states[len(states)-1].Status)
}

func TestAbandonWhenIdlePublishesNothing(t *testing.T) {
	rec := &recorder{}
	c := NewController(&fakeUploader{}, staticTokens{"tok"}, WithPublisher(rec))
	c.Abandon()
	assert.Equal(t, model.UploadIdle, c.State().Status)
	assert.Empty(t, rec.Snapshot())
}

func TestProgressOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"No file uploaded"}`))
			return
		}
		w.Write([]byte(`{"message":"Upload Success!","filename":"report.pdf","document_id":42}`))
	}))
	defer server.Close()

	rec := &recorder{}
	c := NewController(apiclient.New(server.URL, 0, nil), staticTokens{"tok"}, WithPublisher(rec))
	body := "%PDF-1.4\n" + strings.Repeat("x", 256<<10)

	require.NoError(t, c.Submit(context.Background(), memFile("report.pdf", "application/pdf", body), SourcePicker))

	states := rec.Snapshot()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, model.UploadState{Status: model.UploadUploading, Filename: "report.pdf"}, states[0])
	last := states[len(states)-1]
	assert.Equal(t, model.UploadState{Status: model.UploadSuccess, Progress: 100, Filename: "report.pdf"}, last)

	prev := 0
	for _, s := range states[:len(states)-1] {
		assert.Equal(t, model.UploadUploading, s.Status)
		assert.GreaterOrEqual(t, s.Progress, prev)
		assert.LessOrEqual(t, s.Progress, 99)
		prev = s.Progress
	}
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	content := []byte("%PDF-1.4\n%%EOF\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := OpenLocal(path)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.Equal(t, int64(len(content)), f.Size)

	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, data))

	_, err = OpenLocal(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}
