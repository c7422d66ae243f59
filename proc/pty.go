package proc

import (
	"fmt"
	"os/exec"

	"github.com/creack/pty"
)

// spawnPTY starts a process attached to a pseudo-terminal. Terminal sessions
// run the user's shell with login+interactive flags; agent sessions run the
// tool binary. Remote sessions wrap the command in an ssh -tt invocation so
// the far end allocates a terminal too.
func (s *Supervisor) spawnPTY(cfg SpawnConfig) (*ptyHandle, error) {
	var name string
	var args []string

	if cfg.Terminal {
		name = s.shell.Shell()
		args = []string{"-l", "-i"}
	} else {
		name = cfg.Command
		if name == "" {
			name = cfg.Tool.Capabilities().Binary
		}
		args = append(args, cfg.Args...)
	}

	if cfg.Remote != nil {
		name, args = buildSSHInvocation(cfg.Remote, true, name, args)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = buildEnv(cfg.GlobalEnv, cfg.CustomEnv)

	cols, rows := cfg.Cols, cfg.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s in pty: %w", name, err)
	}
	return &ptyHandle{ptmx: ptmx, cmd: cmd}, nil
}

// readPTY pumps PTY output into the stream processor until the master
// returns an error (EOF or EIO once the child exits), then reaps the child
// and signals exit. PTY output carries terminal control sequences which are
// stripped before buffering.
func (s *Supervisor) readPTY(sessionID string, h *ptyHandle) {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			s.streams.HandleStdout(sessionID, stripANSI(buf[:n]))
		}
		if err != nil {
			break
		}
	}

	err := h.cmd.Wait()
	h.ptmx.Close()

	s.finish(sessionID, h, waitExitCode(err))
}
