package proc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/agentmux/agentmux-core/agent"
	"github.com/agentmux/agentmux-core/config"
	"github.com/agentmux/agentmux-core/exec"
)

// CommandResult is the outcome of a one-shot command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int

	// Transport is set when the failure happened in the SSH transport
	// (connection refused, host key, timeout) rather than in the command.
	Transport *agent.DetectedError
}

// CommandRequest describes a one-shot command run to completion.
type CommandRequest struct {
	SessionID  string
	WorkingDir string
	Name       string
	Args       []string
	Env        map[string]string
	Stdin      []byte

	// Remote runs the command over SSH instead of locally.
	Remote *SSHRemote
}

// RunCommand executes a single command to completion, locally or over SSH,
// and emits a command-exit signal for the session. Not for long-lived agent
// sessions; there is no PTY and no streaming.
func (s *Supervisor) RunCommand(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	var cmd exec.Command
	cmd.Stdin = req.Stdin

	if req.Remote != nil {
		name, args := buildSSHInvocation(req.Remote, false, req.Name, req.Args)
		cmd.Name = name
		cmd.Args = args
	} else {
		cmd.Name = req.Name
		cmd.Args = req.Args
		cmd.Dir = req.WorkingDir
		if len(req.Env) > 0 {
			env := buildEnv(nil, req.Env)
			cmd.Env = env
		}
	}

	stdout, stderr, err := s.executor.Run(ctx, cmd)
	result := &CommandResult{
		Stdout:   string(stripShellIntegration(stdout)),
		Stderr:   string(stripShellIntegration(stderr)),
		ExitCode: exec.ExitCode(err),
	}

	if req.Remote != nil {
		result.Transport = agent.DetectSSHError(result.Stderr)
	}

	if err != nil && result.ExitCode < 0 {
		return result, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}

	s.log.Debug("command finished",
		"sessionID", req.SessionID, "name", req.Name, "exitCode", result.ExitCode)
	s.streams.EmitCommandExit(req.SessionID, result.ExitCode)
	return result, nil
}

// buildSSHInvocation wraps a command into a non-interactive ssh invocation:
// batch mode (no password prompts), automatic host-key accept, a fixed
// connect timeout, and the optional port. Environment variables become
// inline exports ahead of the remote command, since ssh SendEnv is usually
// filtered by the server's AcceptEnv policy.
func buildSSHInvocation(remote *SSHRemote, wantTTY bool, name string, args []string) (string, []string) {
	sshArgs := []string{
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(config.DefaultSSHConnectTimeout.Seconds())),
	}
	if wantTTY {
		sshArgs = append(sshArgs, "-tt")
	}
	if remote.Port > 0 {
		sshArgs = append(sshArgs, "-p", strconv.Itoa(remote.Port))
	}

	target := remote.Host
	if remote.User != "" {
		target = remote.User + "@" + remote.Host
	}
	sshArgs = append(sshArgs, target)

	var parts []string
	if len(remote.Env) > 0 {
		keys := make([]string, 0, len(remote.Env))
		for key := range remote.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			parts = append(parts, "export "+shellquote.Join(key+"="+remote.Env[key])+";")
		}
	}
	parts = append(parts, shellquote.Join(append([]string{name}, args...)...))

	sshArgs = append(sshArgs, strings.Join(parts, " "))
	return "ssh", sshArgs
}
