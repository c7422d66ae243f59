// Package agent describes the supported AI coding-agent CLI tools and how
// their output is classified.
//
// The package is organized into two modules:
//   - agent.go: tool identifiers and the per-tool capability table
//   - detect.go: embedded-error detection and stderr classification
package agent

// Tool identifies an agent CLI (or the plain user shell for terminal sessions).
type Tool string

const (
	ToolClaude   Tool = "claude"
	ToolCodex    Tool = "codex"
	ToolGemini   Tool = "gemini"
	ToolTerminal Tool = "terminal"
)

// Capabilities describes how a tool is spawned and how prompts and image
// attachments reach it.
type Capabilities struct {
	// Binary is the executable name looked up on PATH.
	Binary string

	// NeedsPTY is true for tools that render a full-screen TUI and therefore
	// require a pseudo-terminal when run without a literal prompt.
	NeedsPTY bool

	// SupportsStdinImages is true when the tool accepts base64 image content
	// blocks in its stream-json stdin protocol.
	SupportsStdinImages bool

	// ImageFileFlag is the CLI flag used to pass an image saved to a temp
	// file. Empty when the tool has no such flag.
	ImageFileFlag string

	// ResumeEmbedsImagePaths is true for tools that only accept image paths
	// embedded as prompt text during a resume invocation. For those, images
	// are referenced via an "[Attached images: …]" text prefix instead of a
	// file flag.
	ResumeEmbedsImagePaths bool
}

// capabilities is the per-tool table. Terminal sessions run the user's shell
// and take no prompt or images.
var capabilities = map[Tool]Capabilities{
	ToolClaude: {
		Binary:              "claude",
		SupportsStdinImages: true,
	},
	ToolCodex: {
		Binary:        "codex",
		NeedsPTY:      true,
		ImageFileFlag: "--image",
	},
	ToolGemini: {
		Binary:                 "gemini",
		ResumeEmbedsImagePaths: true,
	},
	ToolTerminal: {
		NeedsPTY: true,
	},
}

// Capabilities returns the capability entry for the tool.
// Unknown tools get a zero entry with the tool name as binary, so a spawn
// attempt fails with a clear "binary not found" error instead of a panic.
func (t Tool) Capabilities() Capabilities {
	if caps, ok := capabilities[t]; ok {
		return caps
	}
	return Capabilities{Binary: string(t)}
}

// Known reports whether the tool has a capability entry.
func (t Tool) Known() bool {
	_, ok := capabilities[t]
	return ok
}
