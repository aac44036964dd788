// Package remote declares the capability boundaries of the two systems the
// engine synchronizes: the production-tracking record store and the issue
// tracker. The engine only ever talks to these interfaces; concrete clients
// live in subpackages or in the embedding application.
package remote

import (
	"context"
	"errors"

	"tracksync.app/sync-server/internal/model"
)

// ErrNotFound marks an absent record or tracker resource. All other remote
// errors are transport-level and propagate to the dispatcher uncaught.
var ErrNotFound = errors.New("not found")

// Filter is an equality filter over record fields. Link fields match by
// target record ID.
type Filter map[string]any

// RecordStore is the production-tracking database capability.
type RecordStore interface {
	// Find returns records of a type matching the filter, with the given
	// fields populated. Trashed records are excluded unless the filter asks
	// for them explicitly via the store's deletion marker field.
	Find(ctx context.Context, recordType string, filter Filter, fields []string) ([]model.Record, error)
	// FindOne fetches a single record by ID, ErrNotFound when absent.
	FindOne(ctx context.Context, recordType, id string, fields []string) (*model.Record, error)
	Create(ctx context.Context, recordType string, data map[string]any) (*model.Record, error)
	Update(ctx context.Context, recordType, id string, data map[string]any) error
	Delete(ctx context.Context, recordType, id string) error

	// FieldSchema resolves a field's declared shape, ErrNotFound when the
	// type has no such field.
	FieldSchema(ctx context.Context, recordType, field string) (*model.FieldSchema, error)
	// NameField is the field carrying a record's display name.
	NameField(recordType string) string
	// PageURL is the deep link to a record in the record store's UI.
	PageURL(record *model.Record) string
}
