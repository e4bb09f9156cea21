package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/middleware"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/repository"
	"github.com/portalchat/internal/store/memory"
	"github.com/portalchat/internal/ws"
)

// ConversationStore is the pull side of the durable store. Implemented by
// repository.ConversationRepository and store/memory.ConversationStore.
type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	ListForViewer(ctx context.Context, viewerID string) ([]model.ConversationSummary, error)
	IsViewer(ctx context.Context, id, viewerID string) (bool, error)
	SetStatus(ctx context.Context, id string, status model.ConversationStatus) error
}

type ConversationHandler struct {
	convStore ConversationStore
	hub       *ws.Hub
}

func NewConversationHandler(convStore ConversationStore, hub *ws.Hub) *ConversationHandler {
	return &ConversationHandler{convStore: convStore, hub: hub}
}

// List returns the viewer's conversations with authoritative unread counts.
// This is the rehydration call clients replace local state with.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.GetViewerID(r.Context())
	sums, err := h.convStore.ListForViewer(r.Context(), viewerID)
	if err != nil {
		logger.Errorf("conversation list viewer=%s: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

type createConversationRequest struct {
	CustomerID string `json:"customer_id"`
}

// Create opens a new conversation. A customer opens their own; staff tooling
// may open one for a named customer.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.GetViewerID(r.Context())
	var req createConversationRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	customerID := req.CustomerID
	if customerID == "" {
		customerID = viewerID
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		Status:        model.ConversationOpen,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if err := h.convStore.Create(r.Context(), conv); err != nil {
		logger.Errorf("conversation create customer=%s: %v", customerID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	viewerID := middleware.GetViewerID(r.Context())
	ok, err := h.convStore.IsViewer(r.Context(), id, viewerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a conversation viewer")
		return
	}
	conv, err := h.convStore.Get(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

// Assign transfers conversation ownership. Last writer wins: assigning an
// already-assigned conversation is a handoff, not an error.
func (h *ConversationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id required")
		return
	}
	if err := h.hub.Assign(r.Context(), id, req.AgentID); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		logger.Errorf("conversation assign id=%s agent=%s: %v", id, req.AgentID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close marks a conversation closed. The next inbound message reopens it.
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	viewerID := middleware.GetViewerID(r.Context())
	ok, err := h.convStore.IsViewer(r.Context(), id, viewerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a conversation viewer")
		return
	}
	if err := h.convStore.SetStatus(r.Context(), id, model.ConversationClosed); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, memory.ErrNotFound)
}
