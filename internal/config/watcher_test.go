package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/astraloracle/oracle/internal/config"
)

const (
	rosterOne = `
server:
  log_level: info
oracles:
  - id: michael
    name: Michael
    title: Archange
    voice: Charon
`
	rosterTwo = `
server:
  log_level: debug
oracles:
  - id: michael
    name: Michael
    title: Archange
    voice: Charon
  - id: luna
    name: Luna
    title: Voyante des marées
    voice: Aoede
    ritual: lunar
`
	rosterBroken = `
server:
  log_level: bananas
`
)

// reloads records every callback invocation.
type reloads struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	fired chan struct{}
}

func newReloads() *reloads { return &reloads{fired: make(chan struct{}, 8)} }

func (r *reloads) record(old, new *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// watch writes body to a temp config file and starts a fast-polling watcher.
func watch(t *testing.T, body string, r *reloads) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.yaml")
	rewrite(t, path, body)
	var cb func(old, new *config.Config)
	if r != nil {
		cb = r.record
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

// rewrite replaces the file and pushes its mtime forward so coarse
// filesystem clocks still register the edit.
func rewrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	bump(t, path)
}

var bumpMu sync.Mutex
var bumpAt = time.Now()

func bump(t *testing.T, path string) {
	t.Helper()
	bumpMu.Lock()
	bumpAt = bumpAt.Add(2 * time.Second)
	at := bumpAt
	bumpMu.Unlock()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_LoadsOnStart(t *testing.T) {
	t.Parallel()
	w, _ := watch(t, rosterOne, nil)
	cur := w.Current()
	if cur == nil || cur.Server.LogLevel != config.LogInfo || len(cur.Oracles) != 1 {
		t.Fatalf("Current() = %+v", cur)
	}
}

func TestWatcher_ReloadsEditedRoster(t *testing.T) {
	t.Parallel()
	r := newReloads()
	w, path := watch(t, rosterOne, r)

	rewrite(t, path, rosterTwo)
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after edit")
	}

	r.mu.Lock()
	old, next := r.pairs[0][0], r.pairs[0][1]
	r.mu.Unlock()
	d := config.Diff(old, next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if len(d.OracleChanges) != 1 || d.OracleChanges[0].ID != "luna" || !d.OracleChanges[0].Added {
		t.Errorf("oracle changes = %+v, want luna added", d.OracleChanges)
	}
	if w.Current() != next {
		t.Error("Current() is not the reloaded config")
	}
}

func TestWatcher_SkipsRejectedAndTouchedFiles(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(t *testing.T, path string)
	}{
		{"invalid", func(t *testing.T, path string) { rewrite(t, path, rosterBroken) }},
		{"touch only", bump},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newReloads()
			w, path := watch(t, rosterOne, r)
			before := w.Current()

			tt.edit(t, path)
			time.Sleep(150 * time.Millisecond)

			if n := r.count(); n != 0 {
				t.Errorf("callback fired %d times", n)
			}
			if w.Current() != before {
				t.Error("current config replaced")
			}
		})
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	w, _ := watch(t, rosterOne, nil)
	w.Stop()
	w.Stop()
}
