package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublishDigestSendsForm(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier("token123", "chat456")
	notifier.apiBase = server.URL

	if err := notifier.PublishDigest(context.Background(), "1. Top story"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotChat != "chat456" || gotText != "1. Top story" {
		t.Fatalf("unexpected form: chat=%q text=%q", gotChat, gotText)
	}
}

func TestPublishDigestSurfacesAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewNotifier("token", "chat")
	notifier.apiBase = server.URL

	if err := notifier.PublishDigest(context.Background(), "digest"); err == nil {
		t.Fatal("expected error from API failure")
	}
}

func TestPublishDigestRejectsMisconfiguration(t *testing.T) {
	t.Parallel()

	notifier := NewNotifier("", "")
	if err := notifier.PublishDigest(context.Background(), "digest"); err == nil {
		t.Fatal("expected error without credentials")
	}

	configured := NewNotifier("token", "chat")
	if err := configured.PublishDigest(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty digest")
	}
}
