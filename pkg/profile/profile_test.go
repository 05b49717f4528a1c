package profile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func TestStore_OpenEmptyHasNoPromptPrefix(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.PromptPrefix(); got != "" {
		t.Fatalf("expected empty prompt prefix for a fresh store, got %q", got)
	}
}

func TestStore_PromptPrefixOrderedByLayerName(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.WriteLayer("zeta", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("write zeta: %v", err)
	}
	if err := s.WriteLayer("alpha", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("write alpha: %v", err)
	}

	prefix := s.PromptPrefix()
	alphaIdx := indexOf(prefix, "## persona: alpha")
	zetaIdx := indexOf(prefix, "## persona: zeta")
	if alphaIdx == -1 || zetaIdx == -1 {
		t.Fatalf("expected both layers present in prefix, got %q", prefix)
	}
	if alphaIdx > zetaIdx {
		t.Fatalf("expected alpha layer before zeta layer, got %q", prefix)
	}
}

func TestStore_LayerRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, ok := s.Layer("missing"); ok {
		t.Fatal("expected missing layer to report ok=false")
	}

	if err := s.WriteLayer("tone", json.RawMessage(`{"style":"terse"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := s.Layer("tone")
	if !ok {
		t.Fatal("expected tone layer to exist after WriteLayer")
	}
	if string(got) != `{"style":"terse"}` {
		t.Fatalf("unexpected layer content: %s", got)
	}
}

func TestStore_RebuildSnapshotsAndReloads(t *testing.T) {
	workspace := t.TempDir()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	s, err := Open(workspace, fake)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.WriteLayer("tone", json.RawMessage(`{"style":"terse"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	version, err := s.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected first rebuild to be version 1, got %d", version)
	}

	snapshotDir := filepath.Join(workspace, "data", "profiles", "archive", "v_0001_1700000000")
	if _, err := os.Stat(filepath.Join(snapshotDir, "tone.json")); err != nil {
		t.Fatalf("expected snapshot file, stat error: %v", err)
	}

	// Layer set must survive the reload that Rebuild performs.
	if _, ok := s.Layer("tone"); !ok {
		t.Fatal("expected tone layer to still be present after rebuild")
	}

	fake.Advance(time.Hour)
	version2, err := s.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if version2 != 2 {
		t.Fatalf("expected second rebuild to be version 2, got %d", version2)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
