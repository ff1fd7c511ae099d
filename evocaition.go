// Package evocaition defines the request/response types for the evocaition daemon
// and the user configuration shared by every editor host.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package evocaition

// Message types understood by the daemon.
const (
	TypePredict = "predict"
	TypeFocus   = "focus"
	TypeConfig  = "config"
)

// Return modes.
const (
	ModeText     = "text"
	ModeSentence = "sentence"
)

// Error codes returned to editor clients.
const (
	CodeNoActiveDocument   = "no_active_document"
	CodeDocumentChanged    = "document_changed"
	CodeInvalidConfigValue = "invalid_config_value"
	CodeProcessError       = "process_error"
	CodeConfigError        = "config_error"
	CodeCancelled          = "cancelled"
	CodeInvalidRequest     = "invalid_request"
	CodeUnknownAction      = "unknown_action"
)

// Envelope is decoded first to route a line to the right handler.
type Envelope struct {
	Type string `json:"type"`
}

// Position is a zero-based cursor location. Character counts runes within the line.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Request asks the daemon to predict text for a document.
type Request struct {
	Type string `json:"type"`
	// RequestID is a per-session incrementing identifier assigned by the editor.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// SessionID identifies the editor window.
	SessionID string `json:"session_id"`
	// DocumentID identifies the document the text belongs to (usually its URI).
	DocumentID string `json:"document_id"`
	// Text is the full document content.
	Text string `json:"text"`
	// Cursor is the cursor position within Text.
	Cursor Position `json:"cursor"`
	// Mode is "text" or "sentence". Empty means "text".
	Mode string `json:"mode,omitempty"`
}

// Response is sent from the daemon back to the editor.
type Response struct {
	// RequestID is echoed from the request.
	RequestID int `json:"request_id"`
	// DocumentID is echoed from the request.
	DocumentID string `json:"document_id,omitempty"`
	// Text is the text to insert at Cursor.
	Text string `json:"text"`
	// Cursor is where Text should be inserted.
	Cursor Position `json:"cursor"`
	// Error is set when the prediction failed; Text is empty then.
	Error *Error `json:"error,omitempty"`
}

// FocusRequest tells the daemon which document is active in a session.
type FocusRequest struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
}

// FocusResponse acknowledges a FocusRequest.
type FocusResponse struct {
	OK    bool   `json:"ok"`
	Error *Error `json:"error,omitempty"`
}

// ConfigRequest is sent from the editor for configuration operations.
type ConfigRequest struct {
	Type string `json:"type"`
	// Action is one of "get", "defaults", "default_prompt", "validate" or "set".
	Action string `json:"action"`
	// Key and Value are used by "set".
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	Config   *GenerationConfig `json:"config,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Error    *Error            `json:"error,omitempty"`
}

// Error describes a failure surfaced to the user.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "process_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
