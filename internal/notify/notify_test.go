package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWebhookPostsSummary(t *testing.T) {
	var got Summary
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Fatalf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, "token", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}

	overall := 9.0
	err = hook.NotifyHR(context.Background(), Summary{CandidateID: "c1", Name: "Li Lei", Phone: "+86 138", Overall: &overall, Source: "chat"})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.CandidateID != "c1" || got.Phone != "+86 138" || got.Overall == nil || *got.Overall != 9 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, "", time.Second, nil)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	hook.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	if err := hook.NotifyHR(context.Background(), Summary{CandidateID: "c1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWebhookReportsClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, "", time.Second, nil)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	if err := hook.NotifyHR(context.Background(), Summary{CandidateID: "c1"}); err == nil {
		t.Fatalf("expected error for 403")
	}
}

func TestNewFallsBackToLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	n, err := New(Config{}, "", zap.New(core))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := n.(*Log); !ok {
		t.Fatalf("expected log notifier, got %T", n)
	}

	if err := n.NotifyHR(context.Background(), Summary{CandidateID: "c1", Name: "Li Lei", WeChat: "lilei"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	entries := logs.FilterMessage("candidate shared contact details").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["wechat"] != "lilei" {
		t.Fatalf("unexpected fields: %v", entries[0].ContextMap())
	}

	if _, err := New(Config{WebhookURL: "http://127.0.0.1:1"}, "", nil); err != nil {
		t.Fatalf("expected webhook notifier: %v", err)
	}
}
