package logging

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are structured fields automatically attached to every log
// record written within a context, so a single message's worth of log
// lines all carry the same correlation fields without threading them
// through every call site.
type LogFields struct {
	Repo          string
	ChannelID     string
	MessageID     string
	ExceptionType string
	Component     string
	CorrelationID string
}

// WithLogFields enriches ctx with fields, merging onto any fields already
// present (non-empty values in fields take precedence).
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves the fields attached to ctx, or a zero value if none.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.Repo != "" {
		result.Repo = next.Repo
	}
	if next.ChannelID != "" {
		result.ChannelID = next.ChannelID
	}
	if next.MessageID != "" {
		result.MessageID = next.MessageID
	}
	if next.ExceptionType != "" {
		result.ExceptionType = next.ExceptionType
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	if next.CorrelationID != "" {
		result.CorrelationID = next.CorrelationID
	}
	return result
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long tracebacks or queries.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
