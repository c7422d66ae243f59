package account

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempRegistry(t *testing.T, profiles ...*Profile) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "accounts.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range profiles {
		if err := r.Add(p); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestRegistryMissingFileIsEmpty(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.GetAll()) != 0 {
		t.Errorf("accounts = %v, want none", r.GetAll())
	}
}

func TestRegistryPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(&Profile{ID: "work", Name: "Work", Dir: "/tmp/work", Default: true}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	p := reloaded.Get("work")
	if p == nil || p.Name != "Work" || !p.Default || p.Status != StatusActive {
		t.Errorf("reloaded profile = %+v", p)
	}
}

func TestSetStatusStampsThrottleTime(t *testing.T) {
	r := tempRegistry(t, &Profile{ID: "a", Dir: "/tmp/a"})

	before := time.Now()
	if err := r.SetStatus("a", StatusThrottled); err != nil {
		t.Fatal(err)
	}
	p := r.Get("a")
	if p.Status != StatusThrottled {
		t.Errorf("status = %s", p.Status)
	}
	if p.LastThrottled.Before(before) {
		t.Errorf("LastThrottled = %v, want stamped now", p.LastThrottled)
	}

	if err := r.SetStatus("a", StatusActive); err != nil {
		t.Fatal(err)
	}
	if p := r.Get("a"); !p.LastThrottled.IsZero() {
		t.Errorf("LastThrottled = %v, want cleared on reactivation", p.LastThrottled)
	}
}

func TestSetStatusUnknownAccount(t *testing.T) {
	r := tempRegistry(t)
	if err := r.SetStatus("ghost", StatusThrottled); err == nil {
		t.Error("SetStatus on unknown account succeeded")
	}
}

func TestAssignments(t *testing.T) {
	r := tempRegistry(t, &Profile{ID: "a", Dir: "/tmp/a"})

	if _, ok := r.GetAssignment("s1"); ok {
		t.Error("assignment exists before AssignToSession")
	}
	r.AssignToSession("s1", "a")
	if id, ok := r.GetAssignment("s1"); !ok || id != "a" {
		t.Errorf("assignment = %q,%v", id, ok)
	}
	r.ClearAssignment("s1")
	if _, ok := r.GetAssignment("s1"); ok {
		t.Error("assignment survives ClearAssignment")
	}
}

type stubUsage struct {
	tokens map[string]int64
	err    error
}

func (s *stubUsage) WindowTokens(accountID string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.tokens[accountID], nil
}

func TestSelectNextAccountExcludes(t *testing.T) {
	r := tempRegistry(t,
		&Profile{ID: "a", Dir: "/a"},
		&Profile{ID: "b", Dir: "/b"},
	)

	p := r.SelectNextAccount([]string{"a"}, nil)
	if p == nil || p.ID != "b" {
		t.Errorf("selected = %+v, want b", p)
	}
}

func TestSelectNextAccountSkipsInactive(t *testing.T) {
	r := tempRegistry(t,
		&Profile{ID: "a", Dir: "/a"},
		&Profile{ID: "b", Dir: "/b"},
	)
	if err := r.SetStatus("a", StatusThrottled); err != nil {
		t.Fatal(err)
	}
	if err := r.SetStatus("b", StatusExpired); err != nil {
		t.Fatal(err)
	}

	if p := r.SelectNextAccount(nil, nil); p != nil {
		t.Errorf("selected = %+v, want nil with no active accounts", p)
	}
}

func TestSelectNextAccountCapacityAware(t *testing.T) {
	r := tempRegistry(t,
		&Profile{ID: "nearly-spent", Dir: "/a", TokenBudget: 1000},
		&Profile{ID: "fresh", Dir: "/b", TokenBudget: 1000},
	)
	usage := &stubUsage{tokens: map[string]int64{"nearly-spent": 900, "fresh": 100}}

	p := r.SelectNextAccount(nil, usage)
	if p == nil || p.ID != "fresh" {
		t.Errorf("selected = %+v, want the account with the most remaining budget", p)
	}
}

func TestSelectNextAccountUsageErrorStillEligible(t *testing.T) {
	r := tempRegistry(t, &Profile{ID: "a", Dir: "/a", TokenBudget: 1000})
	usage := &stubUsage{err: errors.New("stats db locked")}

	if p := r.SelectNextAccount(nil, usage); p == nil || p.ID != "a" {
		t.Errorf("selected = %+v, stats failure must not exclude the account", p)
	}
}

func TestGetDefaultAccount(t *testing.T) {
	r := tempRegistry(t,
		&Profile{ID: "a", Dir: "/a"},
		&Profile{ID: "b", Dir: "/b", Default: true},
	)
	if p := r.GetDefaultAccount(); p == nil || p.ID != "b" {
		t.Errorf("default = %+v, want b", p)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	r := tempRegistry(t, &Profile{ID: "a", Dir: "/a"})
	if err := r.Add(&Profile{ID: "a", Dir: "/other"}); err == nil {
		t.Error("duplicate Add succeeded")
	}
}

func TestProfileWindowDefault(t *testing.T) {
	p := &Profile{ID: "a"}
	if p.Window() != 5*time.Hour {
		t.Errorf("Window() = %v, want 5h default", p.Window())
	}
	p.WindowMinutes = 60
	if p.Window() != time.Hour {
		t.Errorf("Window() = %v, want 1h", p.Window())
	}
}

func TestRegistryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("accounts: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRegistry(path); err == nil {
		t.Error("corrupt accounts file loaded without error")
	}
}
