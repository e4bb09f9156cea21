package handler

import (
	"net/http"
	"time"
)

// ClientConfig is the bootstrap payload the portal front end fetches before
// opening the socket: the VAPID public key for push subscription and the
// typing TTL, so every client expires typing signals on the same clock.
type ClientConfig struct {
	VAPIDPublicKey   string `json:"vapid_public_key"`
	TypingTTLSeconds int    `json:"typing_ttl_seconds"`
}

// ConfigHandler serves the client bootstrap configuration. The payload is
// fixed at startup.
type ConfigHandler struct {
	cfg ClientConfig
}

func NewConfigHandler(vapidPublicKey string, typingTTL time.Duration) *ConfigHandler {
	return &ConfigHandler{cfg: ClientConfig{
		VAPIDPublicKey:   vapidPublicKey,
		TypingTTLSeconds: int(typingTTL / time.Second),
	}}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg)
}
