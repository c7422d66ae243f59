// Package proc owns the live-session table: spawning agent processes (PTY or
// plain), routing writes/resizes/interrupts/kills, and running one-shot
// commands locally or over SSH.
package proc

import (
	"github.com/agentmux/agentmux-core/agent"
)

// StdinMode selects how a literal prompt reaches a plain-process agent.
type StdinMode string

const (
	// StdinAuto picks the delivery path from the argument list and
	// attachments: stream-json stdin when the args carry an
	// "--input-format stream-json" pair or images are attached, CLI argument
	// otherwise.
	StdinAuto StdinMode = ""

	// StdinRaw writes the prompt to stdin verbatim and closes it.
	StdinRaw StdinMode = "raw"

	// StdinStreamJSON wraps the prompt in a stream-json user message.
	StdinStreamJSON StdinMode = "stream-json"
)

// ImageAttachment is an inline image passed with a prompt.
type ImageAttachment struct {
	// Data is the base64-encoded image content (no data: prefix).
	Data string

	// MediaType is the MIME type, e.g. "image/png".
	MediaType string
}

// SSHRemote describes a remote host a session runs on.
type SSHRemote struct {
	Host string
	User string
	Port int // 0 = default

	// Env is exported inline in the remote shell before the command runs.
	Env map[string]string
}

// SpawnConfig describes one process spawn request.
type SpawnConfig struct {
	SessionID string
	Tool      agent.Tool

	// WorkingDir is the directory the process starts in.
	WorkingDir string

	// Command overrides the tool's binary when set.
	Command string
	Args    []string

	// RequiresPTY forces a pseudo-terminal even for tools that do not
	// declare one.
	RequiresPTY bool

	// Prompt is a literal prompt delivered at spawn.
	Prompt string

	// Images are inline attachments; their presence forces structured stdin
	// delivery (or the tool's file-flag/text-prefix fallback).
	Images []ImageAttachment

	// Resume marks a resume invocation of an existing agent conversation.
	// Some tools only accept image paths as prompt text in this mode.
	Resume bool

	// Mode flags. Terminal runs the user's shell in a PTY. Batch accumulates
	// output until exit and parses once. StreamJSON parses output as
	// line-delimited JSON events.
	Terminal   bool
	Batch      bool
	StreamJSON bool
	Stdin      StdinMode

	// Remote, when non-nil, runs the session over SSH.
	Remote *SSHRemote

	// CustomEnv and GlobalEnv are applied over the curated base environment,
	// custom last. Values beginning with "~/" are expanded to the home dir.
	CustomEnv map[string]string
	GlobalEnv map[string]string

	// Cols and Rows set the initial PTY size. Zero means 80x24.
	Cols uint16
	Rows uint16
}

// SpawnResult reports the outcome of a spawn request.
type SpawnResult struct {
	ProcessID int
	Success   bool
}
