package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentmux/agentmux-core/paths"
)

func setupTestLogger(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	paths.Reset()
	Reset()
	t.Cleanup(func() {
		Reset()
		paths.Reset()
	})

	path := filepath.Join(t.TempDir(), "test.log")
	if err := Init(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitAndWrite(t *testing.T) {
	path := setupTestLogger(t)

	Get().Info("hello from test", "key", "value")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestWithSessionAttachesField(t *testing.T) {
	path := setupTestLogger(t)

	WithSession("sess-42").Info("spawned")
	Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "sessionID=sess-42") {
		t.Errorf("log entry missing session field: %s", data)
	}
}

func TestWithComponentAttachesField(t *testing.T) {
	path := setupTestLogger(t)

	WithComponent("poller").Info("tick")
	Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "component=poller") {
		t.Errorf("log entry missing component field: %s", data)
	}
}

func TestSetDebug(t *testing.T) {
	path := setupTestLogger(t)

	Get().Debug("hidden")
	SetDebug(true)
	Get().Debug("visible")
	SetDebug(false)
	Close()

	data, _ := os.ReadFile(path)
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written while debug disabled")
	}
	if !strings.Contains(out, "visible") {
		t.Error("debug entry missing after SetDebug(true)")
	}
}

func TestInitIdempotent(t *testing.T) {
	path := setupTestLogger(t)
	other := filepath.Join(t.TempDir(), "other.log")
	if err := Init(other); err != nil {
		t.Fatal(err)
	}

	Get().Info("entry")
	Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("first log path missing: %v", err)
	}
	if _, err := os.Stat(other); err == nil {
		t.Error("second Init opened a new file; Init must be idempotent")
	}
}

func TestAgentLogPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	paths.Reset()
	t.Cleanup(paths.Reset)

	p, err := AgentLogPath("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(p, "agent-sess-1.log") {
		t.Errorf("path = %q", p)
	}
}
