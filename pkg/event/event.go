package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the lifecycle point that produced an event.
type Type string

const (
	// TypeSessionStart marks the beginning of an agent session.
	TypeSessionStart Type = "session_start"

	// TypeUserPrompt is emitted when the user submits a prompt.
	TypeUserPrompt Type = "user_prompt"

	// TypePreTool is emitted before a proposed tool call executes.
	// This is the only event type on which the engine can deny an action.
	TypePreTool Type = "pre_tool"

	// TypePostTool is emitted after a tool call completed (or failed).
	TypePostTool Type = "post_tool"

	// TypeSessionEnd marks the end of an agent session.
	TypeSessionEnd Type = "session_end"
)

// KnownTypes lists every event type the engine understands.
var KnownTypes = []Type{
	TypeSessionStart,
	TypeUserPrompt,
	TypePreTool,
	TypePostTool,
	TypeSessionEnd,
}

// IsValid reports whether t is one of the known event types.
func (t Type) IsValid() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Record is the wire format for a single engine invocation. One record is
// read per process; unknown fields are ignored.
type Record struct {
	EventType         string          `json:"event_type"`
	Turn              int             `json:"turn"`
	Prompt            string          `json:"prompt,omitempty"`
	ToolName          string          `json:"tool_name,omitempty"`
	ToolInput         json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput        string          `json:"tool_output,omitempty"`
	ToolError         string          `json:"tool_error,omitempty"`
	SessionID         string          `json:"session_id"`
	TranscriptExcerpt string          `json:"transcript_excerpt,omitempty"`
}

// Snapshot is the immutable view of one event to be judged. Build it with
// ParseRecord (or FromRecord) and treat every field as read-only.
type Snapshot struct {
	// Type is the event lifecycle point.
	Type Type

	// Turn is the zero-based conversation turn index.
	Turn int

	// Prompt is the free-text user prompt, if any.
	Prompt string

	// ToolName is the name of the proposed or completed tool call.
	ToolName string

	// ToolInput is the tool input flattened to text for matching.
	ToolInput string

	// ToolOutput is the tool output, if the tool already ran.
	ToolOutput string

	// ToolError is the tool error text, empty on success.
	ToolError string

	// SessionID references the owning agent session.
	SessionID string

	// TranscriptExcerpt is a rolling summary of the recent transcript.
	TranscriptExcerpt string

	// ReceivedAt is when the snapshot was built.
	ReceivedAt time.Time
}

// ParseRecord decodes a JSON input record into a Snapshot.
//
// On malformed JSON or an unknown event type it returns a zero Snapshot and
// a diagnostic error. Callers are expected to treat that error as advisory
// and allow the action (fail-open).
func ParseRecord(data []byte) (*Snapshot, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return &Snapshot{ReceivedAt: time.Now()}, fmt.Errorf("malformed input record: %w", err)
	}
	return FromRecord(&rec)
}

// FromRecord builds a Snapshot from an already-decoded Record.
func FromRecord(rec *Record) (*Snapshot, error) {
	snap := &Snapshot{
		Type:              Type(rec.EventType),
		Turn:              rec.Turn,
		Prompt:            rec.Prompt,
		ToolName:          rec.ToolName,
		ToolInput:         flattenInput(rec.ToolInput),
		ToolOutput:        rec.ToolOutput,
		ToolError:         rec.ToolError,
		SessionID:         rec.SessionID,
		TranscriptExcerpt: rec.TranscriptExcerpt,
		ReceivedAt:        time.Now(),
	}

	if !snap.Type.IsValid() {
		return snap, fmt.Errorf("unknown event type %q", rec.EventType)
	}
	if snap.SessionID == "" {
		return snap, fmt.Errorf("input record missing session_id")
	}
	return snap, nil
}

// Failed reports whether the event represents a failed tool call.
func (s *Snapshot) Failed() bool {
	return s.Type == TypePostTool && s.ToolError != ""
}

// Text returns the text surface of the snapshot used for feature
// extraction: prompt, tool name, tool input and output joined together.
func (s *Snapshot) Text() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.Prompt, s.ToolName, s.ToolInput, s.ToolOutput} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// flattenInput converts an arbitrary tool_input JSON value into matchable
// text. Strings are unquoted; objects keep their raw JSON form, which is
// good enough for substring and regex matching.
func flattenInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
