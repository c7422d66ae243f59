package process

import "testing"

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		name    string
		cmdLine string
		want    string
	}{
		{"session-id flag", "claude --session-id abc-123 --print", "abc-123"},
		{"equals form", "claude --session-id=abc-123", "abc-123"},
		{"resume flag", "codex --resume def-456", "def-456"},
		{"no flag", "claude --print hello", ""},
		{"flag without value", "claude --session-id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSessionID(tt.cmdLine); got != tt.want {
				t.Errorf("ExtractSessionID(%q) = %q, want %q", tt.cmdLine, got, tt.want)
			}
		})
	}
}
