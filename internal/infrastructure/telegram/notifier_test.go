package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPublishReportPostsForm(t *testing.T) {
	t.Parallel()

	type request struct{ path, chat, text string }
	received := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		received <- request{path: r.URL.Path, chat: r.PostForm.Get("chat_id"), text: r.PostForm.Get("text")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token123", "42", srv.URL)
	if err := n.PublishReport(context.Background(), "1. Error: boom"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := <-received
	if got.path != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if got.chat != "42" || got.text != "1. Error: boom" {
		t.Fatalf("unexpected form chat=%q text=%q", got.chat, got.text)
	}
}

func TestPublishReportTruncatesLongReports(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		received <- r.PostForm.Get("text")
	}))
	defer srv.Close()

	n := NewNotifier("t", "c", srv.URL)
	if err := n.PublishReport(context.Background(), strings.Repeat("é", 5000)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	gotText := <-received
	if utf8.RuneCountInString(gotText) != maxMessageLength || !strings.HasSuffix(gotText, "...") {
		t.Fatalf("expected truncated report, got %d runes", utf8.RuneCountInString(gotText))
	}
}

func TestPublishReportErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "", "").PublishReport(context.Background(), "x"); err == nil {
		t.Fatal("expected misconfiguration error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewNotifier("t", "c", srv.URL).PublishReport(context.Background(), "x"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
