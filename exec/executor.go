// Package exec provides an abstraction over command execution for testability.
// Production code uses RealExecutor; tests inject a MockExecutor that returns
// pre-recorded responses and records invocations for verification.
package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
)

// Command describes a single command invocation.
type Command struct {
	Dir   string   // Working directory ("" = inherit)
	Env   []string // Environment ("" entries invalid; nil = inherit)
	Stdin []byte   // Bytes written to stdin before it is closed (nil = no stdin)
	Name  string   // Binary name or path
	Args  []string // Arguments
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command to completion and returns stdout, stderr, and
	// any error. Cancelling the context force-terminates the process.
	Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error)
}

// ExitCode resolves the process exit code from a Run error.
// Returns 0 for nil, the process exit code for *exec.ExitError, and -1 for
// anything else (spawn failure, context cancellation, signal death).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	err = c.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error

	// Hook runs when the rule matches, before the response is returned.
	// Useful for side effects such as writing a credential file.
	Hook func(cmd Command)
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(cmd Command) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration.
type MockExecutor struct {
	mu    sync.RWMutex
	rules []MockRule
	calls []Command
}

// NewMockExecutor creates a new MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddNameMatch adds a rule that matches any invocation of the given binary.
func (e *MockExecutor) AddNameMatch(name string, response MockResponse) {
	e.AddRule(func(cmd Command) bool { return cmd.Name == name }, response)
}

// AddPrefixMatch adds a rule that matches a binary with leading arguments.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(cmd Command) bool {
		if cmd.Name != name || len(cmd.Args) < len(prefixArgs) {
			return false
		}
		for i, arg := range prefixArgs {
			if cmd.Args[i] != arg {
				return false
			}
		}
		return true
	}, response)
}

// Calls returns all recorded command invocations.
func (e *MockExecutor) Calls() []Command {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]Command, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// Run executes a mocked command. Unmatched commands return empty success.
func (e *MockExecutor) Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error) {
	e.mu.Lock()
	e.calls = append(e.calls, cmd)
	var resp *MockResponse
	for i := range e.rules {
		if e.rules[i].Match(cmd) {
			resp = &e.rules[i].Response
			break
		}
	}
	e.mu.Unlock()

	if resp == nil {
		return nil, nil, nil
	}
	if resp.Hook != nil {
		resp.Hook(cmd)
	}
	return resp.Stdout, resp.Stderr, resp.Err
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
