package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/middleware"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/ws"
)

// MessageStore is the pull side for message history and unread counts.
type MessageStore interface {
	History(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
}

type MessageHandler struct {
	msgStore     MessageStore
	convStore    ConversationStore
	counters     ws.CounterCache
	historyLimit int
}

func NewMessageHandler(msgStore MessageStore, convStore ConversationStore, counters ws.CounterCache, historyLimit int) *MessageHandler {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &MessageHandler{msgStore: msgStore, convStore: convStore, counters: counters, historyLimit: historyLimit}
}

// History returns a conversation's messages in (created_at, id) order.
// A viewer who lost access gets 403: that is a terminal fault for the client,
// which then discards its local state for the conversation.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	viewerID := middleware.GetViewerID(r.Context())

	ok, err := h.convStore.IsViewer(r.Context(), id, viewerID)
	if err != nil {
		logger.Errorf("history access conversation=%s viewer=%s: %v", id, viewerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a conversation viewer")
		return
	}

	limit := queryInt(r, "limit", h.historyLimit)
	if limit > h.historyLimit {
		limit = h.historyLimit
	}
	msgs, err := h.msgStore.History(r.Context(), id, limit)
	if err != nil {
		logger.Errorf("history conversation=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// UnreadCounts returns the authoritative unread counters for every
// conversation of the viewer, zero-count ones included, and refreshes the
// counter cache on the way out so subsequent push deltas start from truth.
func (h *MessageHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.GetViewerID(r.Context())
	counts, err := h.msgStore.UnreadCounts(r.Context(), viewerID)
	if err != nil {
		logger.Errorf("unread counts viewer=%s: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	for convID, n := range counts {
		if err := h.counters.Set(r.Context(), convID, viewerID, n); err != nil {
			logger.Errorf("counter refresh conversation=%s viewer=%s: %v", convID, viewerID, err)
		}
	}
	writeJSON(w, http.StatusOK, counts)
}
