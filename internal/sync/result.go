package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// SoftError records a per-field translation or resolution failure that
// skipped one field without aborting the call.
type SoftError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Result is the outcome of one processed event. Synced is true iff at least
// one remote write occurred; Skipped lists fields dropped by soft errors.
type Result struct {
	Synced  bool        `json:"synced"`
	Skipped []SoftError `json:"skipped,omitempty"`
}

// state is the per-call scratch carried through a processing pipeline run.
type state struct {
	writes  int
	skipped []SoftError
}

func (st *state) wrote() {
	st.writes++
}

func (st *state) softf(ctx context.Context, field, format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	slog.WarnContext(ctx, "field skipped", "field", field, "reason", reason)
	st.skipped = append(st.skipped, SoftError{Field: field, Reason: reason})
}

func (st *state) result() *Result {
	return &Result{Synced: st.writes > 0, Skipped: st.skipped}
}
