package stream

import "github.com/agentmux/agentmux-core/agent"

// Usage holds token counters from an agent message. Agents report running
// cumulative totals; the processor normalizes them to deltas per session.
type Usage struct {
	InputTokens              int64   `json:"input_tokens"`
	OutputTokens             int64   `json:"output_tokens"`
	CacheReadInputTokens     int64   `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64   `json:"cache_creation_input_tokens"`
	TotalCostUSD             float64 `json:"total_cost_usd"`
}

// sub returns the field-wise difference u-o.
func (u Usage) sub(o Usage) Usage {
	return Usage{
		InputTokens:              u.InputTokens - o.InputTokens,
		OutputTokens:             u.OutputTokens - o.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens - o.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens - o.CacheCreationInputTokens,
		TotalCostUSD:             u.TotalCostUSD - o.TotalCostUSD,
	}
}

// negative reports whether any counter went backwards, which means the agent
// reset its counters (new underlying conversation) rather than regressed.
func (u Usage) negative() bool {
	return u.InputTokens < 0 || u.OutputTokens < 0 ||
		u.CacheReadInputTokens < 0 || u.CacheCreationInputTokens < 0 ||
		u.TotalCostUSD < 0
}

// zero reports whether every counter is zero.
func (u Usage) zero() bool {
	return u == Usage{}
}

// Events is the callback table for everything derived from process output.
//
// Callback Threading Model:
// All callbacks are invoked from the supervisor's reader goroutines or the
// coalescing buffer's flush timer. Implementations should be thread-safe and
// avoid blocking; a slow callback delays output delivery for its session.
//
// Any callback may be nil; nil callbacks are skipped.
type Events struct {
	// OnData delivers coalesced output text (plain output, streamed partial
	// text, and terminal results all arrive here).
	OnData func(sessionID, text string)

	// OnStderr delivers stderr content that survived noise suppression and
	// was not reclassified as response output.
	OnStderr func(sessionID, text string)

	// OnExit fires when a long-lived session process exits, after all
	// pending output for the session has been flushed.
	OnExit func(sessionID string, exitCode int)

	// OnCommandExit fires when a one-shot command completes.
	OnCommandExit func(sessionID string, exitCode int)

	// OnError reports spawn and system failures (binary missing, pipe setup).
	OnError func(sessionID, message string)

	// OnAgentError reports an error detected inside agent output.
	// Emitted at most once per session lifetime.
	OnAgentError func(sessionID string, kind agent.ErrorKind, message string)

	// OnUsage delivers normalized usage deltas.
	OnUsage func(sessionID string, delta Usage)

	// OnSessionID reports the agent's own conversation id, once per session.
	OnSessionID func(sessionID, agentSessionID string)

	// OnSlashCommands reports the slash commands advertised in the agent's
	// init message.
	OnSlashCommands func(sessionID string, commands []string)

	// OnThinkingChunk delivers partial reasoning text.
	OnThinkingChunk func(sessionID, text string)

	// OnToolExecution reports a tool invocation notice.
	OnToolExecution func(sessionID, toolName, detail string)
}
