// Package process finds and cleans up agent CLI processes left behind on the
// system, typically after a crash of the supervising application.
package process

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/agentmux/agentmux-core/agent"
	"github.com/agentmux/agentmux-core/logger"
)

// AgentProcess represents a running agent CLI process found on the system.
type AgentProcess struct {
	PID     int    // Process ID
	Tool    agent.Tool
	Command string // Full command line
}

// FindAgentProcesses finds all running agent CLI processes carrying a
// session-id flag. Useful for detecting orphaned processes left behind after
// a crash.
func FindAgentProcesses() ([]AgentProcess, error) {
	var processes []AgentProcess
	log := logger.WithComponent("process")

	switch runtime.GOOS {
	case "darwin", "linux":
		for _, tool := range []agent.Tool{agent.ToolClaude, agent.ToolCodex, agent.ToolGemini} {
			binary := tool.Capabilities().Binary
			cmd := exec.Command("pgrep", "-f", binary+".*--session-id")
			output, err := cmd.Output()
			if err != nil {
				// pgrep returns exit code 1 if no processes found
				if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
					continue
				}
				return nil, err
			}

			for _, pidStr := range strings.Fields(string(output)) {
				pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
				if err != nil {
					continue
				}

				// Get the full command line for this PID
				psCmd := exec.Command("ps", "-p", pidStr, "-o", "args=")
				psOutput, err := psCmd.Output()
				if err != nil {
					continue
				}

				processes = append(processes, AgentProcess{
					PID:     pid,
					Tool:    tool,
					Command: strings.TrimSpace(string(psOutput)),
				})
			}
		}

	case "windows":
		for _, tool := range []agent.Tool{agent.ToolClaude, agent.ToolCodex, agent.ToolGemini} {
			binary := tool.Capabilities().Binary
			cmd := exec.Command("tasklist", "/FI", "IMAGENAME eq "+binary+"*", "/FO", "CSV", "/NH")
			output, err := cmd.Output()
			if err != nil {
				return nil, err
			}

			for _, line := range strings.Split(string(output), "\n") {
				fields := strings.Split(line, ",")
				if len(fields) >= 2 {
					pidStr := strings.Trim(strings.TrimSpace(fields[1]), "\"")
					pid, err := strconv.Atoi(pidStr)
					if err != nil {
						continue
					}
					processes = append(processes, AgentProcess{
						PID:     pid,
						Tool:    tool,
						Command: strings.Trim(fields[0], "\""),
					})
				}
			}
		}
	}

	log.Debug("found agent processes", "count", len(processes))
	return processes, nil
}

// KillProcess kills a process by PID.
func KillProcess(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := exec.Command("kill", "-9", strconv.Itoa(pid))
		return cmd.Run()
	case "windows":
		cmd := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid))
		return cmd.Run()
	}
	return nil
}

// FindOrphanedProcesses finds agent processes whose session id is not in the
// provided set of known session ids.
func FindOrphanedProcesses(knownSessionIDs map[string]bool) ([]AgentProcess, error) {
	allProcesses, err := FindAgentProcesses()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []AgentProcess
	for _, proc := range allProcesses {
		sessionID := ExtractSessionID(proc.Command)
		if sessionID != "" && !knownSessionIDs[sessionID] {
			orphans = append(orphans, proc)
			log.Info("found orphaned agent process",
				"pid", proc.PID, "tool", proc.Tool, "sessionID", sessionID)
		}
	}

	return orphans, nil
}

// ExtractSessionID extracts the session id from an agent CLI command line.
func ExtractSessionID(cmdLine string) string {
	// Look for --session-id or --resume followed by the ID
	for _, pattern := range []string{"--session-id", "--resume"} {
		_, after, ok := strings.Cut(cmdLine, pattern)
		if !ok {
			continue
		}

		rest := strings.TrimLeft(after, " =")
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// CleanupOrphanedProcesses kills all agent processes that don't match known
// session ids. Returns the number of processes killed.
func CleanupOrphanedProcesses(knownSessionIDs map[string]bool) (int, error) {
	orphans, err := FindOrphanedProcesses(knownSessionIDs)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned agent process", "pid", proc.PID, "tool", proc.Tool)
		if err := KillProcess(proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}

	return killed, nil
}
