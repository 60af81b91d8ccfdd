// Package apiclient talks to the RAG platform's HTTP/JSON API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/logging"
)

const (
	pathRegister = "/register"
	pathLogin    = "/login"
	pathUpload   = "/api/upload"
	pathChat     = "/api/chat"
)

// Fallback messages shown when the server gives no usable error field.
const (
	FallbackLogin    = "Login failed"
	FallbackRegister = "Registration failed"
	FallbackUpload   = "Upload failed"
	FallbackChat     = "Chat request failed"
)

// User-facing copy for malformed success bodies.
const (
	MessageMissingToken      = "Token not found in response"
	MessageMissingDocumentID = "Document id not found in response"
)

var (
	// ErrMissingToken is returned when login succeeds at the HTTP level but the
	// body carries no token.
	ErrMissingToken = errors.New("login response has no token")
	// ErrMissingDocumentID is returned when an upload succeeds at the HTTP
	// level but the body carries no numeric document id.
	ErrMissingDocumentID = errors.New("upload response has no document id")
)

// APIError is a non-2xx response (or an undecodable 2xx body). Message is the
// server's error field when it could be decoded, otherwise the per-call
// fallback.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// UserMessage turns any client error into the string a user should see.
// Transport failures collapse to fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, ErrMissingToken):
		return MessageMissingToken
	case errors.Is(err, ErrMissingDocumentID):
		return MessageMissingDocumentID
	default:
		return fallback
	}
}

// Client issues requests against one base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client. A zero timeout means requests are bounded only by
// their context.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger).Named("apiclient"),
	}
}

// BaseURL reports the server the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, pathLogin, "", credentials{username, password}, &out, FallbackLogin); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", ErrMissingToken
	}
	return out.Token, nil
}

// Register creates an account and returns the server's confirmation message.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.postJSON(ctx, pathRegister, "", credentials{username, password}, &out, FallbackRegister); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ChatResponse is the decoded body of a chat call. Answer is nil when the
// server omitted the field.
type ChatResponse struct {
	Answer *string `json:"answer"`
}

// Chat asks one stateless question about a document.
func (c *Client) Chat(ctx context.Context, token, question string, documentID int64) (*ChatResponse, error) {
	payload := struct {
		Question   string `json:"question"`
		DocumentID int64  `json:"document_id"`
	}{question, documentID}
	var out ChatResponse
	if err := c.postJSON(ctx, pathChat, token, payload, &out, FallbackChat); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, in, out any, fallback string) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, out, fallback)
}

func (c *Client) do(req *http.Request, token string, out any, fallback string) error {
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fallback
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fallback}
	}
	return nil
}
