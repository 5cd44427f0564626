package validation

import "context"

type contextKey string

const ctxKeySource contextKey = "validation_source"

// Validation sources used as a metrics label.
const (
	SourceSingle = "single"
	SourceBatch  = "batch"
)

// ContextWithSource marks where a validation request came from.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ctxKeySource, source)
}

// SourceFromContext returns the source set by ContextWithSource, or
// SourceSingle.
func SourceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySource).(string); ok && v != "" {
		return v
	}
	return SourceSingle
}
