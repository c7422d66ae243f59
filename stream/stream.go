// Package stream decodes raw agent process output into structured events.
//
// Each registered session runs in one of three regimes:
//   - stream-json: output is accumulated to newline boundaries and each
//     complete line is parsed as a JSON event and dispatched
//   - batch: output is accumulated until exit and parsed once
//   - plain: output passes through the coalescing buffer untouched
//
// Unparseable stream-json lines fall back to plain-text forwarding; a parse
// failure is never surfaced as an error.
package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentmux/agentmux-core/agent"
)

// Options describes how a session's output is processed.
type Options struct {
	Tool       agent.Tool
	StreamJSON bool // line-delimited JSON event protocol
	Batch      bool // single aggregate response parsed on exit
	Remote     bool // session runs over SSH; check transport errors first
}

// sessionState holds per-session decoding state.
type sessionState struct {
	opts Options

	stdoutPending []byte // partial stdout line assembly
	stderrPending []byte // partial stderr line assembly
	batch         bytes.Buffer

	// streamed collects partial text so the terminal result can fall back to
	// it when the result event itself carries no text.
	streamed strings.Builder

	lastUsage Usage
	hasUsage  bool

	errorEmitted     bool
	resultEmitted    bool
	sessionIDEmitted bool
}

// Processor turns raw stdout/stderr bytes into Events callbacks.
type Processor struct {
	mu       sync.Mutex
	events   Events
	sessions map[string]*sessionState
	buffer   *coalescer
	log      *slog.Logger
}

// NewProcessor creates a Processor that emits through the given callbacks.
func NewProcessor(events Events, log *slog.Logger) *Processor {
	p := &Processor{
		events:   events,
		sessions: make(map[string]*sessionState),
		log:      log,
	}
	p.buffer = newCoalescer(func(sessionID, text string) {
		if p.events.OnData != nil {
			p.events.OnData(sessionID, text)
		}
	})
	return p
}

// Register starts tracking a session. Re-registering a session id resets its
// decoding state (a respawn starts a fresh stream).
func (p *Processor) Register(sessionID string, opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = &sessionState{opts: opts}
}

// Unregister drops a session without flushing. Used when a spawn fails after
// registration.
func (p *Processor) Unregister(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// EmitError reports a spawn/system failure for a session.
func (p *Processor) EmitError(sessionID, message string) {
	if p.events.OnError != nil {
		p.events.OnError(sessionID, message)
	}
}

// EmitCommandExit reports completion of a one-shot command.
func (p *Processor) EmitCommandExit(sessionID string, exitCode int) {
	if p.events.OnCommandExit != nil {
		p.events.OnCommandExit(sessionID, exitCode)
	}
}

// HandleStdout processes a chunk of stdout for a session.
func (p *Processor) HandleStdout(sessionID string, data []byte) {
	p.mu.Lock()
	st, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}

	switch {
	case st.opts.Batch:
		st.batch.Write(data)
		p.mu.Unlock()

	case st.opts.StreamJSON:
		st.stdoutPending = append(st.stdoutPending, data...)
		var lines []string
		for {
			idx := bytes.IndexByte(st.stdoutPending, '\n')
			if idx < 0 {
				break
			}
			lines = append(lines, string(st.stdoutPending[:idx]))
			st.stdoutPending = st.stdoutPending[idx+1:]
		}
		p.mu.Unlock()
		for _, line := range lines {
			p.handleLine(sessionID, st, line)
		}

	default:
		p.mu.Unlock()
		p.buffer.append(sessionID, string(data))
	}
}

// HandleStderr processes a chunk of stderr for a session. Error detection
// mirrors stdout; known agent noise is suppressed; misrouted response content
// is forwarded as ordinary output.
func (p *Processor) HandleStderr(sessionID string, data []byte) {
	p.mu.Lock()
	st, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	st.stderrPending = append(st.stderrPending, data...)
	var lines []string
	for {
		idx := bytes.IndexByte(st.stderrPending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(st.stderrPending[:idx]))
		st.stderrPending = st.stderrPending[idx+1:]
	}
	p.mu.Unlock()

	for _, line := range lines {
		p.detectLineError(sessionID, st, line)

		switch agent.ClassifyStderr(st.opts.Tool, line) {
		case agent.StderrNoise:
			// dropped
		case agent.StderrOutput:
			p.buffer.append(sessionID, line+"\n")
		case agent.StderrForward:
			if p.events.OnStderr != nil {
				p.events.OnStderr(sessionID, line)
			}
		}
	}
}

// HandleExit finishes a session: batch output is parsed, trailing partial
// lines and the coalescing buffer are flushed so no output is lost, and the
// exit signal is emitted last. Exits for sessions with no registered state
// are dropped; an exit may only tear down the stream it belongs to.
func (p *Processor) HandleExit(sessionID string, exitCode int) {
	p.mu.Lock()
	st, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Debug("exit for unregistered session dropped",
			"sessionID", sessionID, "exitCode", exitCode)
		return
	}

	if st.opts.Batch {
		p.finishBatch(sessionID, st)
	} else {
		// A final line without a trailing newline is still output.
		if len(st.stdoutPending) > 0 {
			if st.opts.StreamJSON {
				p.handleLine(sessionID, st, string(st.stdoutPending))
			} else {
				p.buffer.append(sessionID, string(st.stdoutPending))
			}
		}
		if len(st.stderrPending) > 0 {
			p.detectLineError(sessionID, st, string(st.stderrPending))
			if agent.ClassifyStderr(st.opts.Tool, string(st.stderrPending)) == agent.StderrForward && p.events.OnStderr != nil {
				p.events.OnStderr(sessionID, string(st.stderrPending))
			}
		}
	}

	p.buffer.flush(sessionID)

	if p.events.OnExit != nil {
		p.events.OnExit(sessionID, exitCode)
	}
}

// streamLine is the shape of one line of the stream-json protocol.
// Field coverage follows what the supported agents actually emit; unknown
// fields are ignored by encoding/json.
type streamLine struct {
	Type          string   `json:"type"`    // "system", "assistant", "user", "result", "stream_event"
	Subtype       string   `json:"subtype"` // "init", "success", ...
	SessionID     string   `json:"session_id"`
	Result        string   `json:"result"`
	IsError       bool     `json:"is_error"`
	Error         string   `json:"error"`
	SlashCommands []string `json:"slash_commands"`
	Usage         *Usage   `json:"usage"`

	Message struct {
		Content []struct {
			Type     string          `json:"type"` // "text", "thinking", "tool_use"
			Text     string          `json:"text"`
			Thinking string          `json:"thinking"`
			Name     string          `json:"name"`
			Input    json.RawMessage `json:"input"`
		} `json:"content"`
		Usage *Usage `json:"usage"`
	} `json:"message"`

	// Stream event fields (partial message deltas)
	Event *struct {
		Type  string `json:"type"`
		Delta *struct {
			Type     string `json:"type"` // "text_delta", "thinking_delta"
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"delta"`
	} `json:"event"`
}

// handleLine processes one complete stream-json line.
func (p *Processor) handleLine(sessionID string, st *sessionState, line string) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	p.detectLineError(sessionID, st, trimmed)

	// Agents with --verbose may emit non-JSON informational lines on stdout.
	// Forward them as plain text rather than dropping output on the floor.
	if !strings.HasPrefix(trimmed, "{") {
		p.buffer.append(sessionID, line+"\n")
		return
	}

	var msg streamLine
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		p.log.Debug("stream line parse failed, forwarding as text", "sessionID", sessionID, "error", err)
		p.buffer.append(sessionID, line+"\n")
		return
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			p.emitSessionID(sessionID, st, msg.SessionID)
			if len(msg.SlashCommands) > 0 && p.events.OnSlashCommands != nil {
				p.events.OnSlashCommands(sessionID, msg.SlashCommands)
			}
		}

	case "assistant":
		for _, content := range msg.Message.Content {
			switch content.Type {
			case "text":
				if content.Text != "" {
					p.mu.Lock()
					st.streamed.WriteString(content.Text)
					p.mu.Unlock()
					p.buffer.append(sessionID, content.Text)
				}
			case "thinking":
				if content.Thinking != "" && p.events.OnThinkingChunk != nil {
					p.events.OnThinkingChunk(sessionID, content.Thinking)
				}
			case "tool_use":
				if p.events.OnToolExecution != nil {
					p.events.OnToolExecution(sessionID, content.Name, toolInputDetail(content.Input))
				}
			}
		}
		if msg.Message.Usage != nil {
			p.emitUsage(sessionID, st, *msg.Message.Usage)
		}
		p.emitSessionID(sessionID, st, msg.SessionID)

	case "stream_event":
		if msg.Event != nil && msg.Event.Delta != nil {
			switch msg.Event.Delta.Type {
			case "text_delta":
				if msg.Event.Delta.Text != "" {
					p.mu.Lock()
					st.streamed.WriteString(msg.Event.Delta.Text)
					p.mu.Unlock()
					p.buffer.append(sessionID, msg.Event.Delta.Text)
				}
			case "thinking_delta":
				if msg.Event.Delta.Thinking != "" && p.events.OnThinkingChunk != nil {
					p.events.OnThinkingChunk(sessionID, msg.Event.Delta.Thinking)
				}
			}
		}

	case "result":
		p.handleResult(sessionID, st, &msg)
	}
}

// handleResult emits the terminal result once per session. When the result
// event carries no text, the accumulated streamed text already delivered via
// the buffer stands in for it, so nothing further is appended.
func (p *Processor) handleResult(sessionID string, st *sessionState, msg *streamLine) {
	p.mu.Lock()
	already := st.resultEmitted
	st.resultEmitted = true
	streamedLen := st.streamed.Len()
	p.mu.Unlock()
	if already {
		return
	}

	if msg.IsError || msg.Error != "" {
		message := msg.Error
		if message == "" {
			message = msg.Result
		}
		p.emitAgentError(sessionID, st, agent.ErrorGeneric, message)
	} else if msg.Result != "" && streamedLen == 0 {
		p.buffer.append(sessionID, msg.Result)
	}

	if msg.Usage != nil {
		p.emitUsage(sessionID, st, *msg.Usage)
	}
	p.emitSessionID(sessionID, st, msg.SessionID)
}

// finishBatch parses a batch session's accumulated output once.
func (p *Processor) finishBatch(sessionID string, st *sessionState) {
	raw := strings.TrimSpace(st.batch.String())
	if raw == "" {
		return
	}

	p.detectLineError(sessionID, st, raw)

	var msg streamLine
	if strings.HasPrefix(raw, "{") && json.Unmarshal([]byte(raw), &msg) == nil && msg.Type != "" {
		p.handleResult(sessionID, st, &msg)
		return
	}

	p.buffer.append(sessionID, raw)
}

// detectLineError runs the embedded-error detectors over a line and emits at
// most one agent error per session. For remote sessions the SSH transport
// detector runs first so a dead connection is not blamed on the agent.
func (p *Processor) detectLineError(sessionID string, st *sessionState, line string) {
	if st.opts.Remote {
		if detected := agent.DetectSSHError(line); detected != nil {
			p.emitAgentError(sessionID, st, detected.Kind, detected.Message)
			return
		}
	}
	if detected := agent.DetectError(st.opts.Tool, line); detected != nil {
		p.emitAgentError(sessionID, st, detected.Kind, detected.Message)
	}
}

func (p *Processor) emitAgentError(sessionID string, st *sessionState, kind agent.ErrorKind, message string) {
	p.mu.Lock()
	if st.errorEmitted {
		p.mu.Unlock()
		return
	}
	st.errorEmitted = true
	p.mu.Unlock()

	p.log.Info("agent error detected", "sessionID", sessionID, "kind", kind)
	if p.events.OnAgentError != nil {
		p.events.OnAgentError(sessionID, kind, message)
	}
}

func (p *Processor) emitSessionID(sessionID string, st *sessionState, agentSessionID string) {
	if agentSessionID == "" {
		return
	}
	p.mu.Lock()
	if st.sessionIDEmitted {
		p.mu.Unlock()
		return
	}
	st.sessionIDEmitted = true
	p.mu.Unlock()

	if p.events.OnSessionID != nil {
		p.events.OnSessionID(sessionID, agentSessionID)
	}
}

// emitUsage normalizes cumulative usage counters to a delta. A negative delta
// means the agent reset its counters; the snapshot is re-based and the
// current totals are emitted as the new delta.
func (p *Processor) emitUsage(sessionID string, st *sessionState, current Usage) {
	if current.zero() {
		return
	}

	p.mu.Lock()
	var delta Usage
	if !st.hasUsage {
		delta = current
	} else {
		delta = current.sub(st.lastUsage)
		if delta.negative() {
			delta = current
		}
	}
	st.lastUsage = current
	st.hasUsage = true
	p.mu.Unlock()

	if delta.zero() {
		return
	}
	if p.events.OnUsage != nil {
		p.events.OnUsage(sessionID, delta)
	}
}

// toolInputDetail extracts a short human-readable description from tool input.
func toolInputDetail(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var inputMap map[string]any
	if err := json.Unmarshal(input, &inputMap); err != nil {
		return ""
	}
	// Prefer the conventional fields, then fall back to any string value.
	for _, key := range []string{"file_path", "command", "pattern", "query", "description", "url"} {
		if s, ok := inputMap[key].(string); ok && s != "" {
			return truncateDetail(s)
		}
	}
	for _, v := range inputMap {
		if s, ok := v.(string); ok && s != "" {
			return truncateDetail(s)
		}
	}
	return ""
}

func truncateDetail(s string) string {
	const maxLen = 40
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
