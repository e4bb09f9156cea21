package middleware

import (
	"context"
	"net/http"
)

// ViewerIdentity reads the already-authenticated viewer identity injected by
// the portal's auth gateway (X-Viewer-Id / X-Viewer-Name headers, or query
// params for the WebSocket upgrade where custom headers are awkward from a
// browser). Authentication itself happens upstream; requests arriving here
// without an identity are rejected.
func ViewerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewerID := r.Header.Get("X-Viewer-Id")
		if viewerID == "" {
			viewerID = r.URL.Query().Get("viewer_id")
		}
		if viewerID == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		viewerName := r.Header.Get("X-Viewer-Name")
		if viewerName == "" {
			viewerName = r.URL.Query().Get("viewer_name")
		}
		ctx := context.WithValue(r.Context(), ViewerIDKey, viewerID)
		ctx = context.WithValue(ctx, ViewerNameKey, viewerName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
