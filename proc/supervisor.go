package proc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentmux/agentmux-core/agent"
	"github.com/agentmux/agentmux-core/exec"
	"github.com/agentmux/agentmux-core/stream"
)

// ManagedProcess is the supervisor's record of one live session process.
type ManagedProcess struct {
	SessionID  string
	Tool       agent.Tool
	Pid        int
	WorkingDir string

	handle processHandle
	pty    bool
}

// Supervisor owns the live-session table. It is the single source of truth
// for what is running for which session: at most one ManagedProcess exists
// per session id, enforced by killing any previous process on re-spawn.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*ManagedProcess

	streams  *stream.Processor
	executor exec.CommandExecutor
	shell    shellResolver
	log      *slog.Logger
}

// NewSupervisor creates a supervisor emitting through the stream processor.
// The executor runs one-shot commands and is injectable for tests.
func NewSupervisor(streams *stream.Processor, executor exec.CommandExecutor, log *slog.Logger) *Supervisor {
	return &Supervisor{
		sessions: make(map[string]*ManagedProcess),
		streams:  streams,
		executor: executor,
		log:      log,
	}
}

// Spawn starts a process for the session. PTY mode is chosen for terminal
// sessions and for tools that need a pseudo-terminal when no literal prompt
// is supplied; everything else runs as a plain piped process. Any existing
// process for the session is killed first. Spawn failures are reported
// through the error signal and tear the session down; there is no retry.
func (s *Supervisor) Spawn(cfg SpawnConfig) SpawnResult {
	if cfg.SessionID == "" {
		s.log.Error("spawn rejected: empty session id")
		return SpawnResult{}
	}

	if old := s.remove(cfg.SessionID); old != nil {
		s.log.Info("killing existing process for session",
			"sessionID", cfg.SessionID, "pid", old.Pid)
		old.handle.Kill()
	}

	caps := cfg.Tool.Capabilities()
	usePTY := cfg.Terminal || cfg.Tool == agent.ToolTerminal ||
		((caps.NeedsPTY || cfg.RequiresPTY) && cfg.Prompt == "")

	s.streams.Register(cfg.SessionID, stream.Options{
		Tool:       cfg.Tool,
		StreamJSON: cfg.StreamJSON,
		Batch:      cfg.Batch,
		Remote:     cfg.Remote != nil,
	})

	mp := &ManagedProcess{
		SessionID:  cfg.SessionID,
		Tool:       cfg.Tool,
		WorkingDir: cfg.WorkingDir,
		pty:        usePTY,
	}

	if usePTY {
		h, err := s.spawnPTY(cfg)
		if err != nil {
			return s.spawnFailed(cfg.SessionID, err)
		}
		mp.handle = h
		mp.Pid = h.Pid()
		s.store(mp)
		go s.readPTY(cfg.SessionID, h)
	} else {
		h, stdout, stderr, plan, err := s.spawnPipe(cfg)
		if err != nil {
			return s.spawnFailed(cfg.SessionID, err)
		}
		mp.handle = h
		mp.Pid = h.Pid()
		s.store(mp)
		go s.readPipes(cfg.SessionID, h, stdout, stderr, plan)
	}

	s.log.Info("process spawned",
		"sessionID", cfg.SessionID, "tool", cfg.Tool, "pid", mp.Pid, "pty", usePTY)
	return SpawnResult{ProcessID: mp.Pid, Success: true}
}

func (s *Supervisor) spawnFailed(sessionID string, err error) SpawnResult {
	s.log.Error("spawn failed", "sessionID", sessionID, "error", err)
	s.streams.Unregister(sessionID)
	s.streams.EmitError(sessionID, err.Error())
	return SpawnResult{}
}

// Write forwards input to the session's PTY or stdin. Unknown sessions are a
// logged no-op.
func (s *Supervisor) Write(sessionID string, data []byte) error {
	mp := s.get(sessionID)
	if mp == nil {
		s.log.Warn("write to unknown session", "sessionID", sessionID)
		return fmt.Errorf("no process for session %s", sessionID)
	}
	return mp.handle.Write(data)
}

// Resize adjusts the session's terminal size. No-op outside PTY mode.
func (s *Supervisor) Resize(sessionID string, cols, rows uint16) error {
	mp := s.get(sessionID)
	if mp == nil {
		return fmt.Errorf("no process for session %s", sessionID)
	}
	return mp.handle.Resize(cols, rows)
}

// Interrupt sends a soft interrupt: a control character through the PTY, or
// an interrupt signal to a plain process. Weaker than Kill; the process may
// keep running.
func (s *Supervisor) Interrupt(sessionID string) error {
	mp := s.get(sessionID)
	if mp == nil {
		return fmt.Errorf("no process for session %s", sessionID)
	}
	return mp.handle.Interrupt()
}

// Kill force-terminates the session's process and removes its entry.
// Returns false for unknown sessions.
func (s *Supervisor) Kill(sessionID string) bool {
	mp := s.remove(sessionID)
	if mp == nil {
		return false
	}
	if err := mp.handle.Kill(); err != nil {
		s.log.Warn("kill failed", "sessionID", sessionID, "error", err)
	}
	return true
}

// KillAll tears down every tracked session. Safe to call repeatedly; a
// second call finds an empty table and does nothing.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	doomed := make([]*ManagedProcess, 0, len(s.sessions))
	for _, mp := range s.sessions {
		doomed = append(doomed, mp)
	}
	s.sessions = make(map[string]*ManagedProcess)
	s.mu.Unlock()

	for _, mp := range doomed {
		if err := mp.handle.Kill(); err != nil {
			s.log.Warn("kill failed during shutdown",
				"sessionID", mp.SessionID, "error", err)
		}
	}
}

// Get returns the managed process for a session, or nil.
func (s *Supervisor) Get(sessionID string) *ManagedProcess {
	return s.get(sessionID)
}

// Running reports whether a process is tracked for the session.
func (s *Supervisor) Running(sessionID string) bool {
	return s.get(sessionID) != nil
}

// SessionIDs returns the ids of all tracked sessions.
func (s *Supervisor) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) get(sessionID string) *ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

func (s *Supervisor) store(mp *ManagedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[mp.SessionID] = mp
}

func (s *Supervisor) remove(sessionID string) *ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	mp := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	return mp
}

// finish handles reader-goroutine completion: drop the table entry (only if
// it still refers to this process) and signal exit through the stream
// processor, which flushes pending output first. When a respawn has already
// replaced the entry, the session's stream state belongs to the new process;
// the stale exit must neither tear it down nor surface to the consumer.
func (s *Supervisor) finish(sessionID string, h processHandle, exitCode int) {
	s.mu.Lock()
	replaced := false
	if mp, ok := s.sessions[sessionID]; ok {
		if mp.handle == h {
			delete(s.sessions, sessionID)
		} else {
			replaced = true
		}
	}
	s.mu.Unlock()

	if replaced {
		s.log.Debug("stale process exited after respawn",
			"sessionID", sessionID, "exitCode", exitCode)
		return
	}

	s.log.Info("process exited", "sessionID", sessionID, "exitCode", exitCode)
	s.streams.HandleExit(sessionID, exitCode)
}

// waitExitCode resolves the exit code from cmd.Wait's error.
func waitExitCode(err error) int {
	return exec.ExitCode(err)
}
