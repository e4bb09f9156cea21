package middleware

import "context"

type contextKey string

const (
	ViewerIDKey   contextKey = "viewer_id"
	ViewerNameKey contextKey = "viewer_name"
)

// GetViewerID returns the viewer id from the context (set by ViewerIdentity).
func GetViewerID(ctx context.Context) string {
	v, _ := ctx.Value(ViewerIDKey).(string)
	return v
}

// GetViewerName returns the viewer display name from the context.
func GetViewerName(ctx context.Context) string {
	v, _ := ctx.Value(ViewerNameKey).(string)
	return v
}
