package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// processHandle is the OS-level handle behind a managed process. Exactly one
// concrete shape exists per process: a PTY master or plain stdio pipes. The
// two shapes differ in how input, interrupts, and resizes are delivered.
type processHandle interface {
	// Write delivers input to the process.
	Write(data []byte) error

	// Resize adjusts the terminal size. No-op for pipe processes.
	Resize(cols, rows uint16) error

	// Interrupt delivers a soft interrupt, weaker than Kill.
	Interrupt() error

	// Kill force-terminates the process.
	Kill() error

	// Pid returns the OS process id.
	Pid() int
}

// ptyHandle wraps a process attached to a pseudo-terminal master.
type ptyHandle struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func (h *ptyHandle) Write(data []byte) error {
	_, err := h.ptmx.Write(data)
	return err
}

func (h *ptyHandle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Interrupt writes ETX (Ctrl-C) to the master; the line discipline turns it
// into SIGINT for the foreground process group.
func (h *ptyHandle) Interrupt() error {
	_, err := h.ptmx.Write([]byte{0x03})
	return err
}

func (h *ptyHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *ptyHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// pipeHandle wraps a plain child process with stdio pipes. stdin may be nil
// when it was consumed at spawn (prompt delivery) or never opened.
type pipeHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (h *pipeHandle) Write(data []byte) error {
	if h.stdin == nil {
		return fmt.Errorf("process has no open stdin")
	}
	_, err := h.stdin.Write(data)
	return err
}

func (h *pipeHandle) Resize(cols, rows uint16) error {
	return nil
}

func (h *pipeHandle) Interrupt() error {
	if h.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return h.cmd.Process.Signal(syscall.SIGINT)
}

func (h *pipeHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *pipeHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

var _ processHandle = (*ptyHandle)(nil)
var _ processHandle = (*pipeHandle)(nil)
