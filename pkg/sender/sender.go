// Package sender implements the outbound channel adapter: it shells out to
// a configured external CLI via os/exec and parses its JSON stdout,
// grounded on the teacher's os/exec-based controller pattern
// (pkg/tools/os/worker_*.go) generalized from an OS-automation verb to a
// message-send verb.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// cliResult is the parsed --json stdout contract of the outbound CLI.
type cliResult struct {
	OK    bool   `json:"ok"`
	Route string `json:"route,omitempty"`
	Error string `json:"error,omitempty"`
}

// Sender delivers text to a chat via a configured external CLI binary.
// Outbound calls are serialized per-process by a single mutex, matching
// the teacher's assumption that the external transport is non-reentrant.
type Sender struct {
	mu         sync.Mutex
	cliPath    string
	channel    string
	timeout    time.Duration
	chunkSize  int
	chunkDelay time.Duration
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New builds a Sender that invokes cliPath for the given channel name.
func New(cliPath, channel string, timeout time.Duration, chunkSize int, chunkDelay time.Duration) *Sender {
	return &Sender{
		cliPath:    cliPath,
		channel:    channel,
		timeout:    timeout,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		runCommand: runExternal,
	}
}

func runExternal(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (s *Sender) invoke(ctx context.Context, args ...string) (*cliResult, bool) {
	if s.cliPath == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.runCommand(ctx, s.cliPath, args...)
	if err != nil {
		return nil, false
	}

	var res cliResult
	if jsonErr := json.Unmarshal(out, &res); jsonErr != nil {
		return nil, false
	}
	return &res, res.OK
}

// SendText sends text to target, optionally quoting quoteID. Returns false
// on any transport/CLI failure.
func (s *Sender) SendText(ctx context.Context, target, text, quoteID string) bool {
	args := []string{"message", "send", "--channel", s.channel, "--target", target, "--message", text, "--json"}
	if quoteID != "" {
		args = append(args, "--quote", quoteID)
	}
	_, ok := s.invoke(ctx, args...)
	return ok
}

// SendDryRun invokes the outbound CLI with --dry-run: the CLI validates
// routing and connectivity without actually delivering text. Used by the
// loop-test diagnostic endpoint to verify the bridge is reachable.
func (s *Sender) SendDryRun(ctx context.Context, target, text string) bool {
	args := []string{"message", "send", "--channel", s.channel, "--target", target, "--message", text, "--dry-run", "--json"}
	_, ok := s.invoke(ctx, args...)
	return ok
}

// SendTyping issues a typing indicator to target; failures are not fatal.
func (s *Sender) SendTyping(ctx context.Context, target string) {
	s.invoke(ctx, "message", "typing", "--channel", s.channel, "--target", target, "--json")
}

// SendSeen marks messageID as read for target; failures are not fatal.
func (s *Sender) SendSeen(ctx context.Context, target, messageID string) {
	s.invoke(ctx, "message", "seen", "--channel", s.channel, "--target", target, "--message-id", messageID, "--json")
}

// SendLongMessage chunks text to at most chunkSize runes per message,
// preferring a double-newline, then single-newline, then space boundary
// before falling back to a hard cut. Chunks are sent sequentially with an
// inter-chunk delay; the first failure aborts remaining chunks.
func (s *Sender) SendLongMessage(ctx context.Context, target, text string) bool {
	chunks := chunkText(text, s.chunkSize)
	for i, chunk := range chunks {
		if !s.SendText(ctx, target, chunk, "") {
			return false
		}
		if i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.chunkDelay):
			}
		}
	}
	return true
}

// chunkText splits text into pieces of at most size runes, preferring to
// break at the latest double-newline, newline, or space boundary within
// the window before falling back to a hard cut.
func chunkText(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}

		// strings.LastIndex returns a byte offset into window; window can
		// span multiple bytes per rune (the spec's text is UTF-8), so the
		// offset is mapped back to a rune count before it is used to slice
		// runes, never used as a byte index directly.
		window := string(runes[:size])
		cut := -1
		if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
			cut = utf8.RuneCountInString(window[:idx]) + 2
		} else if idx := strings.LastIndex(window, "\n"); idx > 0 {
			cut = utf8.RuneCountInString(window[:idx]) + 1
		} else if idx := strings.LastIndex(window, " "); idx > 0 {
			cut = utf8.RuneCountInString(window[:idx]) + 1
		} else {
			cut = size
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
