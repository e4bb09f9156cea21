package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientConfigServed(t *testing.T) {
	h := NewConfigHandler("BPubKey123", 3*time.Second)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/client-config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got ClientConfig
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.VAPIDPublicKey != "BPubKey123" {
		t.Errorf("vapid_public_key = %q, want BPubKey123", got.VAPIDPublicKey)
	}
	if got.TypingTTLSeconds != 3 {
		t.Errorf("typing_ttl_seconds = %d, want 3", got.TypingTTLSeconds)
	}
}
