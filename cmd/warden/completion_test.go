package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompletionWritesScript(t *testing.T) {
	var buf bytes.Buffer
	completionCmd.SetOut(&buf)
	defer completionCmd.SetOut(nil)

	if err := completionCmd.RunE(completionCmd, []string{"bash"}); err != nil {
		t.Fatalf("completion bash: %v", err)
	}
	if !strings.Contains(buf.String(), "warden") {
		t.Error("completion script does not reference the binary")
	}
}
