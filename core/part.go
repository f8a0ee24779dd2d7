package core

import "strings"

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any // Structured key/value payload
	Metadata map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Provider assigned call id
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
	Metadata     map[string]any
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Function name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
	Metadata         map[string]any
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// NewTextContent builds single-part text content for role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function calls in part order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}
