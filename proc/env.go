package proc

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// strippedEnvVars are host-runtime and editor-extension variables that must
// never reach an agent process. Agents inspect these to decide whether they
// run inside an editor or an Electron host, and misdetect their execution
// context when a desktop shell's environment leaks through.
var strippedEnvVars = []string{
	"ELECTRON_RUN_AS_NODE",
	"ELECTRON_NO_ATTACH_CONSOLE",
	"TERM_PROGRAM",
	"TERM_PROGRAM_VERSION",
	"ORIGINAL_XDG_CURRENT_DESKTOP",
	"CHROME_DESKTOP",
}

// strippedEnvPrefixes extends the strip set to whole families of variables.
var strippedEnvPrefixes = []string{
	"VSCODE_",
	"CURSOR_",
}

func isStrippedEnvKey(key string) bool {
	for _, name := range strippedEnvVars {
		if key == name {
			return true
		}
	}
	for _, prefix := range strippedEnvPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// unixPath is the fixed PATH for spawned agents on Unix. A curated PATH keeps
// spawns reproducible regardless of what the desktop shell inherited.
const unixPath = "/opt/homebrew/bin:/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"

// buildEnv constructs the process environment: a minimal curated base on
// Unix, the inherited environment on Windows, with the strip set removed and
// global then custom variables applied on top. Values starting with "~/" are
// expanded against the home directory.
func buildEnv(globalEnv, customEnv map[string]string) []string {
	merged := make(map[string]string)

	if runtime.GOOS == "windows" {
		for _, kv := range os.Environ() {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || isStrippedEnvKey(key) {
				continue
			}
			merged[key] = value
		}
	} else {
		merged["PATH"] = unixPath
		for _, key := range []string{"HOME", "USER", "SHELL", "LANG"} {
			if v := os.Getenv(key); v != "" {
				merged[key] = v
			}
		}
		merged["TERM"] = "xterm-256color"
	}

	home, _ := os.UserHomeDir()
	apply := func(env map[string]string) {
		for key, value := range env {
			if isStrippedEnvKey(key) {
				continue
			}
			if home != "" && strings.HasPrefix(value, "~/") {
				value = home + value[1:]
			}
			merged[key] = value
		}
	}
	apply(globalEnv)
	apply(customEnv)

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	return out
}

// shellResolver resolves and caches the user's login shell.
type shellResolver struct {
	mu     sync.Mutex
	cached string
}

// Shell returns the user's shell path, falling back to /bin/bash, then to
// whatever sh is on PATH.
func (r *shellResolver) Shell() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" {
		return r.cached
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		if _, err := os.Stat("/bin/bash"); err == nil {
			shell = "/bin/bash"
		} else if path, err := exec.LookPath("sh"); err == nil {
			shell = path
		} else {
			shell = "/bin/sh"
		}
	}
	r.cached = shell
	return shell
}
