package agent

import "strings"

// ErrorKind classifies an embedded error detected in agent output.
type ErrorKind string

const (
	ErrorAuthExpired ErrorKind = "auth_expired"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorGeneric     ErrorKind = "generic"

	// Transport kinds are produced by SSH detection only.
	ErrorSSHConnectionRefused ErrorKind = "ssh_connection_refused"
	ErrorSSHHostKey           ErrorKind = "ssh_host_key"
	ErrorSSHTimeout           ErrorKind = "ssh_timeout"
	ErrorSSHAuth              ErrorKind = "ssh_auth"
)

// DetectedError is an error found embedded in a line of agent output.
type DetectedError struct {
	Kind    ErrorKind
	Message string
}

// errorPatterns maps substrings (matched case-insensitively) to error kinds,
// checked in order. Auth patterns are checked before rate-limit patterns so a
// line mentioning both ("token expired, rate limited") reports auth expiry,
// which is the condition that needs recovery rather than a cooldown.
type errorPattern struct {
	substr string
	kind   ErrorKind
}

var commonErrorPatterns = []errorPattern{
	{"oauth token has expired", ErrorAuthExpired},
	{"token has expired", ErrorAuthExpired},
	{"token expired", ErrorAuthExpired},
	{"authentication_error", ErrorAuthExpired},
	{"invalid api key", ErrorAuthExpired},
	{"please run /login", ErrorAuthExpired},
	{"401 unauthorized", ErrorAuthExpired},
	{"credentials are invalid", ErrorAuthExpired},
	{"usage limit reached", ErrorRateLimited},
	{"rate limit", ErrorRateLimited},
	{"rate_limit_error", ErrorRateLimited},
	{"429", ErrorRateLimited},
	{"overloaded_error", ErrorRateLimited},
	{"quota exceeded", ErrorRateLimited},
	{"resource_exhausted", ErrorRateLimited},
}

var toolErrorPatterns = map[Tool][]errorPattern{
	ToolClaude: {
		{"claude ai usage limit reached", ErrorRateLimited},
		{"credit balance is too low", ErrorGeneric},
	},
	ToolCodex: {
		{"you've hit your usage limit", ErrorRateLimited},
		{"to continue, run codex login", ErrorAuthExpired},
	},
	ToolGemini: {
		{"gaxioserror", ErrorGeneric},
		{"reauthentication required", ErrorAuthExpired},
	},
}

// DetectError scans a line of output for an embedded agent error.
// Returns nil if the line carries no recognizable error.
func DetectError(tool Tool, line string) *DetectedError {
	lower := strings.ToLower(line)
	for _, p := range toolErrorPatterns[tool] {
		if strings.Contains(lower, p.substr) {
			return &DetectedError{Kind: p.kind, Message: strings.TrimSpace(line)}
		}
	}
	for _, p := range commonErrorPatterns {
		if strings.Contains(lower, p.substr) {
			return &DetectedError{Kind: p.kind, Message: strings.TrimSpace(line)}
		}
	}
	return nil
}

var sshErrorPatterns = []errorPattern{
	{"connection refused", ErrorSSHConnectionRefused},
	{"host key verification failed", ErrorSSHHostKey},
	{"remote host identification has changed", ErrorSSHHostKey},
	{"connection timed out", ErrorSSHTimeout},
	{"could not resolve hostname", ErrorSSHTimeout},
	{"permission denied (publickey", ErrorSSHAuth},
}

// DetectSSHError scans a line for a transport-level SSH failure.
// Transport failures are classified distinctly from agent failures so the
// consumer can surface "host unreachable" instead of blaming the agent.
func DetectSSHError(line string) *DetectedError {
	lower := strings.ToLower(line)
	for _, p := range sshErrorPatterns {
		if strings.Contains(lower, p.substr) {
			return &DetectedError{Kind: p.kind, Message: strings.TrimSpace(line)}
		}
	}
	return nil
}

// StderrClass says what to do with a line an agent wrote to stderr.
type StderrClass int

const (
	// StderrForward forwards the line as a distinct stderr signal.
	StderrForward StderrClass = iota
	// StderrNoise drops the line (known informational output).
	StderrNoise
	// StderrOutput forwards the line as ordinary output: legitimate response
	// content the agent misroutes to stderr.
	StderrOutput
)

// noisePrefixes are stderr lines every tool may emit that carry no signal.
var noisePrefixes = []string{
	"(node:",
	"[DEBUG]",
	"[DEP0040]",
	"Debugger attached",
	"Waiting for the debugger",
	"DeprecationWarning",
	"ExperimentalWarning",
	"npm warn",
	"npm notice",
}

var toolNoisePrefixes = map[Tool][]string{
	ToolClaude: {
		"[ERROR] [MCP", // MCP server chatter, reported elsewhere
		"Spawning claude",
	},
	ToolGemini: {
		"Loaded cached credentials.",
		"Flushing log events",
		"[dotenv",
	},
	ToolCodex: {
		"Reading prompt from stdin",
	},
}

// ClassifyStderr decides whether a stderr line is noise, misrouted response
// content, or genuine stderr. Gemini streams its markdown answer to stderr in
// some invocations; lines that look like prose rather than diagnostics are
// reclassified as output.
func ClassifyStderr(tool Tool, line string) StderrClass {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return StderrNoise
	}

	for _, prefix := range toolNoisePrefixes[tool] {
		if strings.HasPrefix(trimmed, prefix) {
			return StderrNoise
		}
	}
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return StderrNoise
		}
	}

	// Internal diagnostic dumps: stack frames and structured error objects.
	if strings.HasPrefix(trimmed, "at ") || strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, "\"stack\"") {
		return StderrNoise
	}

	if tool == ToolGemini && !looksLikeDiagnostic(trimmed) {
		return StderrOutput
	}
	return StderrForward
}

// looksLikeDiagnostic reports whether a line resembles tooling diagnostics
// rather than response prose.
func looksLikeDiagnostic(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range []string{"error", "warn", "fatal", "exception", "traceback", "stack"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
