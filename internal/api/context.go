package api

import (
	"context"

	"github.com/Robitch/Robify-sub001/internal/logutils"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestIDFromContext returns the request ID from the context, or empty string.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// requestLog tags log lines with the request ID carried by ctx.
func requestLog(ctx context.Context) *logutils.Logger {
	return logutils.Log.WithField("request_id", RequestIDFromContext(ctx))
}
