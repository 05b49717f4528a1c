package dedup

import (
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
)

func TestDeduplicator_IsDuplicate(t *testing.T) {
	d := New(time.Minute, clock.NewFake(time.Unix(0, 0)))

	if d.IsDuplicate("msg-1") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !d.IsDuplicate("msg-1") {
		t.Fatal("second sighting within window should be a duplicate")
	}
	if d.Len() != 1 {
		t.Fatalf("expected 1 tracked entry, got %d", d.Len())
	}
}

func TestDeduplicator_EmptyIDNeverDuplicate(t *testing.T) {
	d := New(time.Minute, clock.NewFake(time.Unix(0, 0)))

	if d.IsDuplicate("") {
		t.Fatal("empty id should never be a duplicate")
	}
	if d.IsDuplicate("") {
		t.Fatal("empty id should never be a duplicate, even repeated")
	}
	if d.Len() != 0 {
		t.Fatalf("empty id should not be tracked, got len %d", d.Len())
	}
}

func TestDeduplicator_ExpiresAfterWindow(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	d := New(time.Minute, fake)

	d.IsDuplicate("msg-1")
	fake.Advance(2 * time.Minute)

	if d.IsDuplicate("msg-1") {
		t.Fatal("entry should have expired after the window elapsed")
	}
}
