package event

import (
	"strings"
	"testing"
)

func TestParseRecord_Valid(t *testing.T) {
	data := []byte(`{
		"event_type": "pre_tool",
		"turn": 7,
		"tool_name": "Write",
		"tool_input": {"file_path": "/srv/app/main.go", "content": "x"},
		"session_id": "sess-1"
	}`)

	snap, err := ParseRecord(data)
	if err != nil {
		t.Fatalf("ParseRecord returned error: %v", err)
	}
	if snap.Type != TypePreTool {
		t.Errorf("Type = %q, want %q", snap.Type, TypePreTool)
	}
	if snap.Turn != 7 {
		t.Errorf("Turn = %d, want 7", snap.Turn)
	}
	if !strings.Contains(snap.ToolInput, "/srv/app/main.go") {
		t.Errorf("ToolInput %q does not contain file path", snap.ToolInput)
	}
	if snap.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestParseRecord_StringInput(t *testing.T) {
	data := []byte(`{"event_type":"pre_tool","tool_name":"Bash","tool_input":"ls -la","session_id":"s"}`)

	snap, err := ParseRecord(data)
	if err != nil {
		t.Fatalf("ParseRecord returned error: %v", err)
	}
	if snap.ToolInput != "ls -la" {
		t.Errorf("ToolInput = %q, want unquoted string", snap.ToolInput)
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{"event_type": `},
		{"unknown type", `{"event_type":"reboot","session_id":"s"}`},
		{"missing session", `{"event_type":"user_prompt"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseRecord([]byte(tt.data))
			if err == nil {
				t.Fatal("expected diagnostic error")
			}
			if snap == nil {
				t.Fatal("malformed input must still return a snapshot for fail-open handling")
			}
		})
	}
}

func TestTypeIsValid(t *testing.T) {
	for _, k := range KnownTypes {
		if !k.IsValid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if Type("bogus").IsValid() {
		t.Error("bogus type should be invalid")
	}
}

func TestSnapshotFailed(t *testing.T) {
	s := &Snapshot{Type: TypePostTool, ToolError: "exit status 1"}
	if !s.Failed() {
		t.Error("post_tool with tool_error should report Failed")
	}
	s = &Snapshot{Type: TypePreTool, ToolError: "x"}
	if s.Failed() {
		t.Error("pre_tool never reports Failed")
	}
}

func TestSnapshotText(t *testing.T) {
	s := &Snapshot{Prompt: "fix it", ToolName: "Bash", ToolInput: "make test"}
	text := s.Text()
	for _, want := range []string{"fix it", "Bash", "make test"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() missing %q", want)
		}
	}
}
