package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/portalchat/internal/model"
)

// TerminalError is a pull rejection that no retry will fix: the viewer lost
// access to the conversation or it no longer exists. Consumers discard their
// local state for the conversation instead of retrying.
type TerminalError struct {
	Status int
	Msg    string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("pull rejected (%d): %s", e.Status, e.Msg)
}

// IsTerminal reports whether err carries a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// Puller rehydrates client state over the REST surface. Every call carries
// the viewer identity headers the API trusts from its upstream auth layer.
type Puller struct {
	baseURL    string
	viewerID   string
	viewerName string
	http       *http.Client
}

func NewPuller(baseURL, viewerID, viewerName string) *Puller {
	return &Puller{
		baseURL:    baseURL,
		viewerID:   viewerID,
		viewerName: viewerName,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Conversations pulls the viewer's conversation list with authoritative
// unread counts.
func (p *Puller) Conversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	if err := p.get(ctx, "/api/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("client.Conversations: %w", err)
	}
	return out, nil
}

// History pulls a conversation's recent messages in (created_at, id) order.
func (p *Puller) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []model.Message
	if err := p.get(ctx, "/api/conversations/"+conversationID+"/messages", q, &out); err != nil {
		return nil, fmt.Errorf("client.History: %w", err)
	}
	return out, nil
}

// UnreadCounts pulls the authoritative unread snapshot for every
// conversation of the viewer, zero counts included.
func (p *Puller) UnreadCounts(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	if err := p.get(ctx, "/api/unread", nil, &out); err != nil {
		return nil, fmt.Errorf("client.UnreadCounts: %w", err)
	}
	return out, nil
}

func (p *Puller) get(ctx context.Context, path string, q url.Values, out any) error {
	u := p.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Viewer-Id", p.viewerID)
	if p.viewerName != "" {
		req.Header.Set("X-Viewer-Name", p.viewerName)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := apiErrorMessage(body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return &TerminalError{Status: resp.StatusCode, Msg: msg}
		}
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
