// Package model contains simple struct definitions shared across packages.
package model

// Session is the authenticated identity. A zero Session means signed out.
type Session struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Present reports whether the session carries a usable bearer token.
func (s Session) Present() bool {
	return s.Token != ""
}

// Record is the durable copy of a session. It holds exactly the token and the
// username so a later launch can pre-populate the session.
type Record struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Panel is the visible top-level view under the orchestrator.
type Panel string

const (
	PanelUpload Panel = "upload"
	PanelChat   Panel = "chat"
)

// View is what a renderer should draw: the login form or one of the panels.
type View string

const (
	ViewLogin  View = "login"
	ViewUpload View = "upload"
	ViewChat   View = "chat"
)
