package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/web/middleware"
)

// WithRequestMetadata adds the client IP and User-Agent to context for
// operation logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, middleware.ClientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}
