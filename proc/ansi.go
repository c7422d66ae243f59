package proc

import "regexp"

// ansiEscapes matches CSI sequences (colors, cursor movement), OSC sequences
// (titles, hyperlinks, shell integration markers) terminated by BEL or ST,
// and single-character escapes.
var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-_]`)

// stripANSI removes terminal control sequences from PTY output before it
// enters the buffering layer.
func stripANSI(data []byte) []byte {
	return ansiEscapes.ReplaceAll(data, nil)
}

// shellIntegration matches the OSC 133/633 prompt-marking sequences emitted
// by shells with terminal integration enabled, which otherwise pollute
// captured one-shot command output.
var shellIntegration = regexp.MustCompile(`\x1b\](?:133|633);[^\x07\x1b]*(?:\x07|\x1b\\)`)

// stripShellIntegration removes shell-integration sequences from captured
// command output.
func stripShellIntegration(data []byte) []byte {
	return shellIntegration.ReplaceAll(data, nil)
}
