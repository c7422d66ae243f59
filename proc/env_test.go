package proc

import (
	"runtime"
	"strings"
	"testing"
)

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestBuildEnvStripsHostRuntimeVars(t *testing.T) {
	t.Setenv("ELECTRON_RUN_AS_NODE", "1")
	t.Setenv("VSCODE_PID", "4242")
	t.Setenv("TERM_PROGRAM", "vscode")

	env := buildEnv(nil, map[string]string{
		"ELECTRON_RUN_AS_NODE": "1",
		"VSCODE_GIT_ASKPASS":   "x",
		"MY_VAR":               "ok",
	})

	for _, key := range []string{"ELECTRON_RUN_AS_NODE", "VSCODE_PID", "VSCODE_GIT_ASKPASS", "TERM_PROGRAM"} {
		if _, found := envValue(env, key); found {
			t.Errorf("%s leaked into the agent environment", key)
		}
	}
	if v, _ := envValue(env, "MY_VAR"); v != "ok" {
		t.Errorf("MY_VAR = %q, want ok", v)
	}
}

func TestBuildEnvCuratedPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("curated PATH applies to Unix only")
	}
	env := buildEnv(nil, nil)
	if v, _ := envValue(env, "PATH"); v != unixPath {
		t.Errorf("PATH = %q, want the fixed curated path", v)
	}
	if v, _ := envValue(env, "TERM"); v != "xterm-256color" {
		t.Errorf("TERM = %q", v)
	}
}

func TestBuildEnvTildeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	env := buildEnv(map[string]string{"TOOL_DIR": "~/tools"}, nil)
	if v, _ := envValue(env, "TOOL_DIR"); v != home+"/tools" {
		t.Errorf("TOOL_DIR = %q, want expanded under %s", v, home)
	}
}

func TestBuildEnvCustomOverridesGlobal(t *testing.T) {
	env := buildEnv(
		map[string]string{"SHARED": "global"},
		map[string]string{"SHARED": "custom"},
	)
	if v, _ := envValue(env, "SHARED"); v != "custom" {
		t.Errorf("SHARED = %q, want custom to win", v)
	}
}

func TestShellResolverCaches(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	var r shellResolver
	if got := r.Shell(); got != "/bin/zsh" {
		t.Fatalf("Shell() = %q, want /bin/zsh", got)
	}

	// Cached value survives the env changing.
	t.Setenv("SHELL", "/bin/fish")
	if got := r.Shell(); got != "/bin/zsh" {
		t.Errorf("Shell() = %q, want cached /bin/zsh", got)
	}
}

func TestStripANSI(t *testing.T) {
	in := []byte("\x1b[32mgreen\x1b[0m text \x1b]0;title\x07tail")
	if got := string(stripANSI(in)); got != "green text tail" {
		t.Errorf("stripANSI = %q", got)
	}
}

func TestStripShellIntegration(t *testing.T) {
	in := []byte("\x1b]133;A\x07output here\x1b]633;D;0\x07")
	if got := string(stripShellIntegration(in)); got != "output here" {
		t.Errorf("stripShellIntegration = %q", got)
	}
}
