// Package translate is the pluggable value conversion boundary between the
// record store's and the tracker's type systems. The sync engine maps list
// fields element-wise through a Translator; swapping the implementation
// changes formatting (dates, durations, comment bodies) without touching the
// engine.
package translate

import (
	"context"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// Env is the per-call environment a conversion may need: the two clients for
// resolving references and users, and the well-known field names of the
// active profile.
type Env struct {
	Records remote.RecordStore
	Tracker remote.IssueTracker

	// ProjectKey scopes tracker user lookups.
	ProjectKey string
	// KeyField is the local cross-reference field holding the tracker key.
	KeyField string
	// EmailField is the contact-address field on user-like records.
	EmailField string
}

// Translator converts one field element at a time. A nil converted value for
// a non-nil input means the value has no counterpart; the engine records that
// as a soft error and skips the field.
type Translator interface {
	// ToIssue converts a record field element into a tracker field value.
	ToIssue(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error)
	// ToRecord converts a tracker field value into a record field element.
	ToRecord(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error)
	// CommentBody renders a comment-like record into the tracker comment
	// body format.
	CommentBody(ctx context.Context, env Env, record *model.Record) (string, error)
}
