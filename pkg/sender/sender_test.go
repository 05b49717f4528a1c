package sender

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestSender(t *testing.T, run func(ctx context.Context, name string, args ...string) ([]byte, error)) *Sender {
	t.Helper()
	s := New("fake-cli", "web", time.Second, 20, time.Millisecond)
	s.runCommand = run
	return s
}

func TestSender_SendTextSuccess(t *testing.T) {
	var gotArgs []string
	s := newTestSender(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(`{"ok":true,"route":"direct"}`), nil
	})

	if !s.SendText(context.Background(), "chat-1", "hello", "") {
		t.Fatal("expected SendText to succeed")
	}
	if gotArgs[0] != "message" || gotArgs[1] != "send" {
		t.Fatalf("unexpected cli args: %v", gotArgs)
	}
}

func TestSender_SendTextQuoteIDAppended(t *testing.T) {
	var gotArgs []string
	s := newTestSender(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(`{"ok":true}`), nil
	})

	s.SendText(context.Background(), "chat-1", "hello", "quote-42")

	found := false
	for i, a := range gotArgs {
		if a == "--quote" && i+1 < len(gotArgs) && gotArgs[i+1] == "quote-42" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --quote quote-42 in args, got %v", gotArgs)
	}
}

func TestSender_NoCLIPathReturnsFalse(t *testing.T) {
	s := New("", "web", time.Second, 20, time.Millisecond)
	if s.SendText(context.Background(), "chat-1", "hello", "") {
		t.Fatal("expected SendText to fail with no cli path configured")
	}
}

func TestSender_CLIFailureReturnsFalse(t *testing.T) {
	s := newTestSender(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, context.DeadlineExceeded
	})
	if s.SendText(context.Background(), "chat-1", "hello", "") {
		t.Fatal("expected SendText to fail when the CLI returns an error")
	}
}

func TestSender_CLIOKFalseReturnsFalse(t *testing.T) {
	s := newTestSender(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"ok":false,"error":"not routable"}`), nil
	})
	if s.SendText(context.Background(), "chat-1", "hello", "") {
		t.Fatal("expected SendText to fail when the CLI reports ok=false")
	}
}

func TestSender_SendLongMessageChunksAndStopsOnFailure(t *testing.T) {
	var sent []string
	call := 0
	s := newTestSender(t, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		call++
		for _, a := range args {
			if strings.HasPrefix(a, "chunk") {
				sent = append(sent, a)
			}
		}
		if call == 2 {
			return []byte(`{"ok":false}`), nil
		}
		return []byte(`{"ok":true}`), nil
	})
	s.chunkSize = 10

	ok := s.SendLongMessage(context.Background(), "chat-1", "chunk-one chunk-two chunk-three")
	if ok {
		t.Fatal("expected SendLongMessage to report failure once a chunk send fails")
	}
	if call != 2 {
		t.Fatalf("expected exactly 2 chunk sends before aborting, got %d", call)
	}
}

func TestChunkText_PrefersBoundaries(t *testing.T) {
	chunks := chunkText("hello world\n\nfoo bar", 15)
	if len(chunks) < 2 {
		t.Fatalf("expected text longer than the chunk size to split, got %v", chunks)
	}
	if strings.TrimSpace(chunks[0]) != "hello world" {
		t.Errorf("expected first chunk to break at the double newline, got %q", chunks[0])
	}
}

func TestChunkText_ShortTextUnsplit(t *testing.T) {
	chunks := chunkText("short", 100)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("expected text under the chunk size to pass through unsplit, got %v", chunks)
	}
}

func TestChunkText_MultibyteRunesDoNotPanic(t *testing.T) {
	// Each CJK rune is 3 bytes in UTF-8, so a window of `size` runes spans
	// 3x as many bytes; strings.LastIndex's byte offset must not be used
	// directly as a rune index or this slices out of range.
	head := strings.Repeat("你好", 2000) // 4000 runes, no break chars
	text := head + "\n\n" + strings.Repeat("世界", 10)

	chunks := chunkText(text, 4000)

	if len(chunks) < 2 {
		t.Fatalf("expected the oversized text to split, got %d chunks", len(chunks))
	}
	joined := strings.Join(chunks, "")
	if joined != text {
		t.Fatalf("chunking must be lossless: got %d runes back, want %d", len([]rune(joined)), len([]rune(text)))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 4000 {
			t.Fatalf("chunk exceeds the rune size limit: %d runes", utf8.RuneCountInString(c))
		}
	}
}
