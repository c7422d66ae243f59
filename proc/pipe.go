package proc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux-core/paths"
)

// promptDelivery is the computed plan for getting the prompt (and images)
// into a plain-process agent.
type promptDelivery struct {
	args    []string
	stdin   []byte // payload written to stdin and closed; nil = stdin stays open
	isJSON  bool
	tempImg []string // temp image files to remove after exit
}

// spawnPipe starts a plain child process with stdio pipes, delivering the
// prompt per the computed plan.
func (s *Supervisor) spawnPipe(cfg SpawnConfig) (*pipeHandle, io.ReadCloser, io.ReadCloser, *promptDelivery, error) {
	plan, err := planPromptDelivery(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	name := cfg.Command
	if name == "" {
		name = cfg.Tool.Capabilities().Binary
	}
	args := plan.args

	if cfg.Remote != nil {
		name, args = buildSSHInvocation(cfg.Remote, false, name, args)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = buildEnv(cfg.GlobalEnv, cfg.CustomEnv)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		plan.cleanup()
		return nil, nil, nil, nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	h := &pipeHandle{cmd: cmd}
	if plan.stdin != nil {
		// Prompt delivered at spawn; write and close so the agent sees EOF.
		go func() {
			if _, err := stdin.Write(plan.stdin); err != nil {
				s.log.Warn("stdin prompt write failed",
					"sessionID", cfg.SessionID, "error", err)
			}
			stdin.Close()
		}()
	} else {
		h.stdin = stdin
	}

	return h, stdout, stderr, plan, nil
}

// readPipes pumps stdout and stderr into the stream processor. Exit is
// signalled only after both streams hit EOF, so buffered output is never
// lost to an early process-exit event.
func (s *Supervisor) readPipes(sessionID string, h *pipeHandle, stdout, stderr io.ReadCloser, plan *promptDelivery) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				s.streams.HandleStdout(sessionID, buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				s.streams.HandleStderr(sessionID, buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	wg.Wait()
	err := h.cmd.Wait()
	plan.cleanup()

	s.finish(sessionID, h, waitExitCode(err))
}

func (p *promptDelivery) cleanup() {
	for _, path := range p.tempImg {
		os.Remove(path)
	}
}

// planPromptDelivery decides how the prompt and images reach the agent:
// stream-json stdin, raw stdin, or a CLI argument after a "--" separator.
// Images always force the structured stdin path when the tool supports it;
// otherwise they fall back to temp files with the tool's file flag, or an
// "[Attached images: …]" prompt prefix for tools that only take paths as
// text during resume.
func planPromptDelivery(cfg SpawnConfig) (*promptDelivery, error) {
	caps := cfg.Tool.Capabilities()
	plan := &promptDelivery{args: append([]string(nil), cfg.Args...)}
	prompt := cfg.Prompt

	if len(cfg.Images) > 0 {
		if caps.SupportsStdinImages {
			plan.args = ensureInputFormatStreamJSON(plan.args)
			payload, err := streamJSONMessage(prompt, cfg.Images)
			if err != nil {
				return nil, err
			}
			plan.stdin = payload
			plan.isJSON = true
			return plan, nil
		}

		files, err := saveImagesToTemp(cfg.Images)
		if err != nil {
			return nil, err
		}
		plan.tempImg = files

		if caps.ImageFileFlag != "" && !(cfg.Resume && caps.ResumeEmbedsImagePaths) {
			for _, path := range files {
				plan.args = append(plan.args, caps.ImageFileFlag, path)
			}
		} else {
			prompt = fmt.Sprintf("[Attached images: %s]\n\n%s", strings.Join(files, ", "), prompt)
		}
	}

	if prompt == "" {
		return plan, nil
	}

	switch cfg.Stdin {
	case StdinRaw:
		plan.stdin = []byte(prompt)
	case StdinStreamJSON:
		payload, err := streamJSONMessage(prompt, nil)
		if err != nil {
			return nil, err
		}
		plan.stdin = payload
		plan.isJSON = true
	default:
		// Only an *input*-format pair selects stdin delivery; an
		// --output-format stream-json pair is about output and must not
		// reroute the prompt.
		if hasFlagPair(plan.args, "--input-format", "stream-json") {
			payload, err := streamJSONMessage(prompt, nil)
			if err != nil {
				return nil, err
			}
			plan.stdin = payload
			plan.isJSON = true
		} else {
			if !hasArg(plan.args, "--") {
				plan.args = append(plan.args, "--")
			}
			plan.args = append(plan.args, prompt)
		}
	}
	return plan, nil
}

// streamJSONMessage builds one stream-json user message carrying the prompt
// text and any image content blocks, newline-terminated.
func streamJSONMessage(prompt string, images []ImageAttachment) ([]byte, error) {
	content := make([]map[string]any, 0, 1+len(images))
	if prompt != "" {
		content = append(content, map[string]any{"type": "text", "text": prompt})
	}
	for _, img := range images {
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": img.MediaType,
				"data":       img.Data,
			},
		})
	}

	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream-json message: %w", err)
	}
	return append(data, '\n'), nil
}

// saveImagesToTemp decodes attachments into the images directory and returns
// their paths.
func saveImagesToTemp(images []ImageAttachment) ([]string, error) {
	dir, err := paths.ImagesDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	var files []string
	for _, img := range images {
		raw, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image attachment: %w", err)
		}
		path := filepath.Join(dir, uuid.NewString()+extForMediaType(img.MediaType))
		if err := os.WriteFile(path, raw, 0600); err != nil {
			return nil, fmt.Errorf("failed to write image file: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}

func extForMediaType(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// ensureInputFormatStreamJSON adds the "--input-format stream-json" pair
// exactly once, never duplicating a pair already present.
func ensureInputFormatStreamJSON(args []string) []string {
	if hasFlagPair(args, "--input-format", "stream-json") {
		return args
	}
	return append(args, "--input-format", "stream-json")
}

// hasFlagPair reports whether args contains flag immediately followed by
// value, or the "flag=value" form.
func hasFlagPair(args []string, flag, value string) bool {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
		if arg == flag+"="+value {
			return true
		}
	}
	return false
}

func hasArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}
