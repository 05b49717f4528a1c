package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/genesis-labs/convo-gateway/pkg/clock"
	"github.com/genesis-labs/convo-gateway/pkg/dedup"
)

type fakeSubmitter struct {
	accepted bool
	reason   string
	gotChat  string
	gotText  string
}

func (f *fakeSubmitter) Submit(ctx context.Context, chatID, text, messageID, senderName string, isGroup, fromMe bool) (bool, string) {
	f.gotChat = chatID
	f.gotText = text
	return f.accepted, f.reason
}

func newTestServer(cfg Config, sub Submitter, d *dedup.Deduplicator) *Server {
	return New(cfg, sub, nil, d, nil, nil, nil, nil, nil, 2, nil, clock.NewFake(time.Unix(1700000000, 0)))
}

func doChat(s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.withCORS(s.handleChat)(w, req)
	return w
}

func TestHandleChat_AcceptsAndQueues(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	s := newTestServer(Config{}, sub, nil)

	w := doChat(s, `{"message":"hi","chat_id":"chat-1","message_id":"m1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" {
		t.Fatalf("expected queued status, got %v", resp)
	}
	if sub.gotChat != "chat-1" || sub.gotText != "hi" {
		t.Fatalf("expected submitter to see the chat/text, got %q/%q", sub.gotChat, sub.gotText)
	}
}

func TestHandleChat_SkipsOwnMessage(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	s := newTestServer(Config{}, sub, nil)

	w := doChat(s, `{"message":"hi","chat_id":"chat-1","fromMe":true}`, nil)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "own_message" {
		t.Fatalf("expected own_message skip reason, got %v", resp)
	}
	if resp["accepted"] != true {
		t.Fatalf("expected accepted=true on a skip response, got %v", resp)
	}
	if sub.gotChat != "" {
		t.Fatal("expected the submitter to never be called for an own message")
	}
}

func TestHandleChat_SkipsEmptyText(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	s := newTestServer(Config{}, sub, nil)

	w := doChat(s, `{"message":"   ","chat_id":"chat-1"}`, nil)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "empty" {
		t.Fatalf("expected empty skip reason, got %v", resp)
	}
	if resp["accepted"] != true {
		t.Fatalf("expected accepted=true on a skip response, got %v", resp)
	}
}

func TestHandleChat_SkipsDuplicateMessageID(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	d := dedup.New(time.Minute, clock.NewFake(time.Unix(0, 0)))
	s := newTestServer(Config{}, sub, d)

	doChat(s, `{"message":"hi","chat_id":"chat-1","message_id":"dup-1"}`, nil)
	w := doChat(s, `{"message":"hi again","chat_id":"chat-1","message_id":"dup-1"}`, nil)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "duplicate" {
		t.Fatalf("expected duplicate skip reason on the second delivery, got %v", resp)
	}
	if resp["accepted"] != true {
		t.Fatalf("expected accepted=true on a skip response, got %v", resp)
	}
}

func TestHandleChat_RequiresSharedSecret(t *testing.T) {
	sub := &fakeSubmitter{accepted: true}
	s := newTestServer(Config{SharedSecret: "s3cret"}, sub, nil)

	w := doChat(s, `{"message":"hi","chat_id":"chat-1"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no api key, got %d", w.Code)
	}

	w2 := doChat(s, `{"message":"hi","chat_id":"chat-1"}`, map[string]string{"x-api-key": "s3cret"})
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct api key, got %d", w2.Code)
	}
}

func TestHandleChat_SubmitterRejectionIsSkipped(t *testing.T) {
	sub := &fakeSubmitter{accepted: false, reason: "queue_full"}
	s := newTestServer(Config{}, sub, nil)

	w := doChat(s, `{"message":"hi","chat_id":"chat-1"}`, nil)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "queue_full" {
		t.Fatalf("expected the submitter's rejection reason to surface, got %v", resp)
	}
	if resp["accepted"] != true {
		t.Fatalf("expected accepted=true on a skip response, got %v", resp)
	}
}

func TestHandleHealth_ReportsModel(t *testing.T) {
	s := newTestServer(Config{Model: "gemini-2.5-pro"}, &fakeSubmitter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["model"] != "gemini-2.5-pro" {
		t.Fatalf("expected the configured model name in /health, got %v", resp)
	}
}

func TestHandleStatus_ReportsWorkerCountAndTimestamp(t *testing.T) {
	s := newTestServer(Config{}, &fakeSubmitter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/gateway/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["workers"].(float64)) != 2 {
		t.Fatalf("expected workers=2, got %v", resp["workers"])
	}
	if resp["timestamp"] != "2023-11-14T22:13:20Z" {
		t.Fatalf("expected the injected clock's timestamp, got %v", resp["timestamp"])
	}
}

func TestHandleRebuild_NotConfiguredReturns501(t *testing.T) {
	s := newTestServer(Config{}, &fakeSubmitter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/persona/rebuild", nil)
	w := httptest.NewRecorder()
	s.handleRebuild(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 with no rebuildFn configured, got %d", w.Code)
	}
}

func TestHandleLoopTest_RequiresBridgeToken(t *testing.T) {
	s := newTestServer(Config{BridgeToken: "tok"}, &fakeSubmitter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/loop-test", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleLoopTest(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no bridge token header, got %d", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/whatsapp/loop-test", strings.NewReader(`{}`))
	req2.Header.Set("x-bridge-token", "tok")
	w2 := httptest.NewRecorder()
	s.handleLoopTest(w2, req2)
	if w2.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 with no sender configured, got %d", w2.Code)
	}
}
