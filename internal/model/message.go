package model

import "time"

// Role identifies who authored a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatState is a snapshot of the chat controller. Only one request may be
// pending at a time.
type ChatState struct {
	DocumentID *int64    `json:"document_id,omitempty"`
	Pending    bool      `json:"pending"`
	Error      string    `json:"error,omitempty"`
	Transcript []Message `json:"transcript"`
}
