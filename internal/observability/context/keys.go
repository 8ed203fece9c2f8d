package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	orgKey       contextKey = "observability_org"
	senderKey    contextKey = "observability_sender"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithOrg records the organization the request acts on.
func WithOrg(ctx context.Context, org string) context.Context {
	if ctx == nil || org == "" {
		return ctx
	}
	return context.WithValue(ctx, orgKey, org)
}

func OrgFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(orgKey).(string)
	return value
}

// WithSender records the sender full name of an ingestion.
func WithSender(ctx context.Context, sender string) context.Context {
	if ctx == nil || sender == "" {
		return ctx
	}
	return context.WithValue(ctx, senderKey, sender)
}

func SenderFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(senderKey).(string)
	return value
}
