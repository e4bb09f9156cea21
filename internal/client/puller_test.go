package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/portalchat/internal/model"
)

func TestPullerSendsViewerIdentity(t *testing.T) {
	var gotID, gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Viewer-Id")
		gotName = r.Header.Get("X-Viewer-Name")
		json.NewEncoder(w).Encode(map[string]int{})
	}))
	defer srv.Close()

	p := NewPuller(srv.URL, "viewer-1", "Alice")
	if _, err := p.UnreadCounts(context.Background()); err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if gotID != "viewer-1" || gotName != "Alice" {
		t.Fatalf("identity headers = %q/%q", gotID, gotName)
	}
}

func TestPullerHistoryDecodesAndPassesLimit(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		json.NewEncoder(w).Encode([]model.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "peer", Content: "hi", CreatedAt: at},
		})
	}))
	defer srv.Close()

	p := NewPuller(srv.URL, "viewer-1", "")
	msgs, err := p.History(context.Background(), "c1", 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || !msgs[0].CreatedAt.Equal(at) {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestPullerRejectionIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a conversation viewer"})
	}))
	defer srv.Close()

	p := NewPuller(srv.URL, "viewer-1", "")
	_, err := p.History(context.Background(), "c1", 0)
	if err == nil {
		t.Fatal("want error")
	}
	if !IsTerminal(err) {
		t.Fatalf("403 should be terminal, got %v", err)
	}
	var te *TerminalError
	if !errors.As(err, &te) || te.Status != http.StatusForbidden || te.Msg != "not a conversation viewer" {
		t.Fatalf("terminal detail: %v", err)
	}
}

func TestPullerServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPuller(srv.URL, "viewer-1", "")
	_, err := p.UnreadCounts(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if IsTerminal(err) {
		t.Fatalf("500 must not be terminal: %v", err)
	}
}
