// Package profile implements the optional Profile Store: a layered,
// versioned persona profile consumed as a prompt-prefix provider
// (spec.md's Profile Store component). The offline analyzer that produces
// layer content is an explicit Non-goal; this package only loads, locks,
// serves, and snapshots the JSON layers it is handed.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

// Store holds the current set of persona-profile layers
// (data/profiles/current/{layer}.json), each an opaque JSON blob rendered
// into a prompt prefix in lexical layer-name order.
type Store struct {
	mu        sync.RWMutex
	root      string // data/profiles
	currentDir string
	archiveDir string
	layers    map[string]json.RawMessage
	clock     clock.Clock
}

// Open loads every *.json file under <workspace>/data/profiles/current/ as
// a named layer. A missing current directory is not an error: the store
// simply starts empty and PromptPrefix returns "".
func Open(workspace string, c clock.Clock) (*Store, error) {
	if c == nil {
		c = clock.Real{}
	}
	root := filepath.Join(workspace, "data", "profiles")
	s := &Store{
		root:       root,
		currentDir: filepath.Join(root, "current"),
		archiveDir: filepath.Join(root, "archive"),
		layers:     make(map[string]json.RawMessage),
		clock:      c,
	}
	if err := os.MkdirAll(s.currentDir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create current dir: %w", err)
	}
	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create archive dir: %w", err)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	entries, err := os.ReadDir(s.currentDir)
	if err != nil {
		return fmt.Errorf("profile: read current dir: %w", err)
	}

	layers := make(map[string]json.RawMessage)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := s.readLayerFile(filepath.Join(s.currentDir, entry.Name()))
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		layers[name] = data
	}

	s.mu.Lock()
	s.layers = layers
	s.mu.Unlock()
	return nil
}

// readLayerFile reads a layer file under an advisory lock, so a concurrent
// writer (a rebuild landing new layer content) never races a reader onto a
// half-written file.
func (s *Store) readLayerFile(path string) (json.RawMessage, error) {
	unlock, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read layer %s: %w", path, err)
	}
	return json.RawMessage(data), nil
}

// Layer returns the raw JSON content of a single layer, or ok=false if it
// does not exist.
func (s *Store) Layer(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.layers[name]
	return v, ok
}

// PromptPrefix renders every layer, in lexical layer-name order, as a
// heading plus its raw JSON body, suitable for injection ahead of the
// system prompt. Returns "" when no layers are present (the persona
// profile is entirely optional).
func (s *Store) PromptPrefix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.layers) == 0 {
		return ""
	}

	names := make([]string, 0, len(s.layers))
	for name := range s.layers {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "## persona: %s\n%s\n\n", name, s.layers[name])
	}
	return sb.String()
}

// WriteLayer replaces a single layer's content under an advisory lock and
// refreshes the in-memory view. It is the landing step for the
// (out-of-scope) offline analyzer's output; Rebuild does not call it.
func (s *Store) WriteLayer(name string, content json.RawMessage) error {
	path := filepath.Join(s.currentDir, name+".json")

	unlock, err := lockFile(path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("profile: write layer %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("profile: replace layer %s: %w", name, err)
	}

	s.mu.Lock()
	s.layers[name] = content
	s.mu.Unlock()
	return nil
}

// Rebuild snapshots the current layer set into a new versioned archive
// directory (data/profiles/archive/v_NNNN_<unix-ts>/) and reloads the
// current view from disk. The actual profile analysis that produces new
// layer content is an explicit Non-goal (the offline persona-building
// analyzer); Rebuild only performs the versioning and reload half of the
// "/persona/rebuild" contract, giving an external analyzer a stable
// snapshot point to write against.
func (s *Store) Rebuild(ctx context.Context) (version int, err error) {
	version, err = s.nextVersion()
	if err != nil {
		return 0, err
	}

	dir := filepath.Join(s.archiveDir, fmt.Sprintf("v_%04d_%d", version, s.clock.Now().Unix()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("profile: create archive snapshot dir: %w", err)
	}

	s.mu.RLock()
	layers := make(map[string]json.RawMessage, len(s.layers))
	for k, v := range s.layers {
		layers[k] = v
	}
	s.mu.RUnlock()

	for name, content := range layers {
		dst := filepath.Join(dir, name+".json")
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return 0, fmt.Errorf("profile: snapshot layer %s: %w", name, err)
		}
	}

	if err := s.reload(); err != nil {
		return version, err
	}
	return version, nil
}

func (s *Store) nextVersion() (int, error) {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		return 0, fmt.Errorf("profile: read archive dir: %w", err)
	}

	max := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "v_") {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(entry.Name(), "v_"), "_", 2)
		if len(parts) == 0 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// Watch starts an fsnotify watcher over the current layer directory,
// reloading in-memory layers on any write/create event, grounded on
// pkg/config/watcher.go's debounced reload idiom. It runs until ctx is
// cancelled.
func (s *Store) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.currentDir); err != nil {
		return
	}

	var timer *time.Timer
	debounce := 300 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() { _ = s.reload() })
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// lockFile takes a simple advisory lock on path+".lock" using exclusive
// file creation, retrying briefly on contention. No third-party
// file-locking library appears anywhere in the example corpus (grepped
// across every go.mod), so this is deliberately built on the stdlib's
// os.OpenFile(O_EXCL) rather than introducing an unprecedented dependency.
func lockFile(path string) (unlock func(), err error) {
	lockPath := path + ".lock"

	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("profile: acquire lock %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("profile: lock %s held beyond deadline", lockPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
