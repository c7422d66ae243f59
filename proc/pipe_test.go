package proc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentmux/agentmux-core/agent"
	"github.com/agentmux/agentmux-core/exec"
	"github.com/agentmux/agentmux-core/paths"
	"github.com/agentmux/agentmux-core/stream"
)

// tinyPNG is a 1x1 transparent PNG.
var tinyPNG = base64.StdEncoding.EncodeToString([]byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
})

func useTempPaths(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	paths.Reset()
	t.Cleanup(paths.Reset)
}

func TestPromptDeliveredAsArgAfterSeparator(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Args:   []string{"--print"},
		Prompt: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--print", "--", "hello"}
	if strings.Join(plan.args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", plan.args, want)
	}
	if plan.stdin != nil {
		t.Errorf("stdin = %q, prompt must not go via stdin", plan.stdin)
	}
}

// An --output-format stream-json pair is about output and must not be
// mistaken for the input-format pair that selects stdin delivery.
func TestOutputFormatPairDoesNotRedirectPrompt(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Args:   []string{"--output-format", "stream-json"},
		Prompt: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.stdin != nil {
		t.Fatalf("stdin = %q, want prompt as CLI argument", plan.stdin)
	}
	if plan.args[len(plan.args)-1] != "hello" || plan.args[len(plan.args)-2] != "--" {
		t.Errorf("args = %v, want prompt appended after separator", plan.args)
	}
}

func TestInputFormatPairSelectsStreamJSONStdin(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Args:   []string{"--input-format", "stream-json"},
		Prompt: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.stdin == nil || !plan.isJSON {
		t.Fatalf("plan = %+v, want stream-json stdin delivery", plan)
	}

	var msg struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(plan.stdin, &msg); err != nil {
		t.Fatalf("stdin payload is not valid JSON: %v", err)
	}
	if msg.Type != "user" || len(msg.Message.Content) != 1 || msg.Message.Content[0].Text != "hello" {
		t.Errorf("payload = %s", plan.stdin)
	}
}

func TestRawStdinMode(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Prompt: "raw text",
		Stdin:  StdinRaw,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(plan.stdin) != "raw text" || plan.isJSON {
		t.Errorf("plan = %+v, want raw stdin", plan)
	}
}

func TestImagesForceStreamJSONStdin(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Prompt: "what is this",
		Images: []ImageAttachment{{Data: tinyPNG, MediaType: "image/png"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.isJSON {
		t.Fatal("images must force stream-json stdin for tools that support it")
	}
	if !hasFlagPair(plan.args, "--input-format", "stream-json") {
		t.Errorf("args = %v, want input-format pair added", plan.args)
	}
	if !strings.Contains(string(plan.stdin), `"type":"image"`) {
		t.Errorf("payload lacks image block: %s", plan.stdin)
	}
}

// The input-format pair is added exactly once, never duplicated when the
// caller already supplied it.
func TestInputFormatFlagNotDuplicated(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolClaude,
		Args:   []string{"--input-format", "stream-json"},
		Prompt: "look",
		Images: []ImageAttachment{{Data: tinyPNG, MediaType: "image/png"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, arg := range plan.args {
		if arg == "--input-format" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("args = %v, input-format appears %d times, want 1", plan.args, count)
	}
}

func TestImagesViaTempFileFlag(t *testing.T) {
	useTempPaths(t)

	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolCodex,
		Prompt: "describe",
		Images: []ImageAttachment{{Data: tinyPNG, MediaType: "image/png"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer plan.cleanup()

	if len(plan.tempImg) != 1 {
		t.Fatalf("tempImg = %v, want one file", plan.tempImg)
	}
	if !hasFlagPair(plan.args, "--image", plan.tempImg[0]) {
		t.Errorf("args = %v, want --image %s", plan.args, plan.tempImg[0])
	}
	// The prompt still travels as a CLI argument.
	if plan.args[len(plan.args)-1] != "describe" {
		t.Errorf("args = %v, want prompt last", plan.args)
	}
}

func TestResumeImagesEmbeddedAsTextPrefix(t *testing.T) {
	useTempPaths(t)

	plan, err := planPromptDelivery(SpawnConfig{
		Tool:   agent.ToolGemini,
		Prompt: "continue",
		Resume: true,
		Images: []ImageAttachment{{Data: tinyPNG, MediaType: "image/png"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer plan.cleanup()

	prompt := plan.args[len(plan.args)-1]
	if !strings.HasPrefix(prompt, "[Attached images: ") {
		t.Errorf("prompt = %q, want attached-images prefix", prompt)
	}
	if !strings.Contains(prompt, "continue") {
		t.Errorf("prompt = %q, original text lost", prompt)
	}
}

func TestNoPromptKeepsStdinOpen(t *testing.T) {
	plan, err := planPromptDelivery(SpawnConfig{Tool: agent.ToolClaude})
	if err != nil {
		t.Fatal(err)
	}
	if plan.stdin != nil {
		t.Errorf("stdin = %q, want none so the pipe stays open", plan.stdin)
	}
}

// lockedBuffer lets the test read log output while reader goroutines write it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// A process that exits without reading its prompt breaks the stdin pipe;
// the lost prompt must at least surface in the log.
func TestStdinWriteFailureLogged(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on a unix binary that ignores stdin")
	}

	logBuf := &lockedBuffer{}
	log := slog.New(slog.NewTextHandler(logBuf, nil))
	exited := make(chan struct{})
	streams := stream.NewProcessor(stream.Events{
		OnExit: func(sessionID string, exitCode int) { close(exited) },
	}, log)
	s := NewSupervisor(streams, exec.NewMockExecutor(), log)
	defer s.KillAll()

	// Larger than any pipe buffer, so the write is still in flight when the
	// process exits and the pipe collapses under it.
	result := s.Spawn(SpawnConfig{
		SessionID: "s1",
		Tool:      agent.Tool("true"),
		Prompt:    strings.Repeat("x", 1<<20),
		Stdin:     StdinRaw,
	})
	if !result.Success {
		t.Fatal("spawn failed")
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logBuf.String(), "stdin prompt write failed") {
		if time.Now().After(deadline) {
			t.Fatalf("write failure not logged; log:\n%s", logBuf.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
