package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields carries structured fields that every log statement within a
// context picks up automatically. Handlers enrich the context once at
// dispatch time and the engine's log lines inherit the event identity.
type LogFields struct {
	Profile    string
	RecordType string
	RecordID   string
	IssueKey   string
	EventKind  string // "change" or "webhook"
	DispatchID *int64
}

// WithLogFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context. Returns empty LogFields if
// none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.Profile != "" {
		result.Profile = new.Profile
	}
	if new.RecordType != "" {
		result.RecordType = new.RecordType
	}
	if new.RecordID != "" {
		result.RecordID = new.RecordID
	}
	if new.IssueKey != "" {
		result.IssueKey = new.IssueKey
	}
	if new.EventKind != "" {
		result.EventKind = new.EventKind
	}
	if new.DispatchID != nil {
		result.DispatchID = new.DispatchID
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
func Ptr[T any](v T) *T {
	return &v
}
