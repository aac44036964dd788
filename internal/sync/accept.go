package sync

import (
	"context"
	"errors"
	"log/slog"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// AcceptChange validates a record-store change event against configuration
// and current remote state. It is side-effect-free apart from read queries.
// The check order is a correctness requirement: later checks rely on the
// record and project resolved by earlier ones.
func (e *Engine) AcceptChange(ctx context.Context, ev model.ChangeEvent) (bool, error) {
	reject := func(reason string, args ...any) (bool, error) {
		args = append([]any{"record_type", ev.RecordType, "record_id", ev.RecordID, "field", ev.Field, "reason", reason}, args...)
		slog.DebugContext(ctx, "change event rejected", args...)
		return false, nil
	}

	entity, ok := e.p.table.ByRecordType(ev.RecordType)
	if !ok {
		return reject("record type not configured")
	}

	dir := entity.Direction
	if dir == "" {
		dir = model.SyncBothWays
	}
	if !dir.AllowsRecordToIssue() {
		return reject("direction excludes record-to-issue")
	}

	isDeletion := ev.Field == e.p.DeletionField
	if isDeletion && !entity.DeletionAllowed(true) {
		return reject("deletion sync disabled")
	}

	if !e.fieldAccepted(entity, ev.Field) {
		return reject("field not mapped")
	}

	rec, err := e.fetchForEvent(ctx, entity, ev.RecordID, isDeletion)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return reject("record not fetchable")
		}
		return false, err
	}

	projectKey, err := e.linkedProjectKey(ctx, rec)
	if err != nil {
		return false, err
	}
	if projectKey == "" {
		return reject("owning project not linked")
	}

	if entity.IsSubResource() {
		ok, err := e.parentWasSynced(ctx, entity, rec, ev)
		if err != nil {
			return false, err
		}
		if !ok {
			return reject("no synced parent link")
		}
	}

	if ev.InCreate && e.recordSynced(rec) {
		return reject("residual creation event")
	}

	if !entity.IsSubResource() {
		if !rec.Bool(e.p.SyncFlagField) {
			return reject("sync flag unset")
		}
		typeOK, err := e.tracker.IssueTypeExists(ctx, entity.IssueType, projectKey)
		if err != nil {
			return false, err
		}
		if !typeOK {
			return reject("issue type missing in project", "issue_type", entity.IssueType, "project", projectKey)
		}
		projOK, err := e.tracker.ProjectExists(ctx, projectKey)
		if err != nil {
			return false, err
		}
		if !projOK {
			return reject("tracker project missing", "project", projectKey)
		}
		fieldsOK, err := e.tracker.FieldsOnScreen(ctx, projectKey, entity.IssueType,
			[]string{e.p.ids.remoteType, e.p.ids.remoteID, e.p.ids.remoteURL, e.p.ids.syncBack})
		if err != nil {
			return false, err
		}
		if !fieldsOK {
			return reject("cross-reference fields not enabled", "project", projectKey)
		}
	}

	return true, nil
}

// fieldAccepted reports whether the changed field participates in sync: the
// mapped field set plus the always-allowed sync flag, deletion marker, and
// (for sub-resources) the parent link.
func (e *Engine) fieldAccepted(entity *mapping.Entity, field string) bool {
	if field == e.p.SyncFlagField || field == e.p.DeletionField {
		return true
	}
	if entity.IsSubResource() && field == entity.ParentField {
		return true
	}
	return entity.SupportsField(field)
}

// fetchForEvent fetches the record with every field its type declares.
// Deletion events fetch the record in its retired state.
func (e *Engine) fetchForEvent(ctx context.Context, entity *mapping.Entity, recordID string, trashed bool) (*model.Record, error) {
	fields := e.p.fetchFields[entity.RecordType]
	if trashed {
		fields = append(append([]string{}, fields...), e.p.DeletionField)
	}
	return e.records.FindOne(ctx, entity.RecordType, recordID, fields)
}

// parentWasSynced accepts a sub-resource event when its current parent link,
// or for parent-link edits the previous parent, points at a synced record.
func (e *Engine) parentWasSynced(ctx context.Context, entity *mapping.Entity, rec *model.Record, ev model.ChangeEvent) (bool, error) {
	if cur := rec.FirstReference(entity.ParentField); cur != nil {
		synced, err := e.referenceSynced(ctx, *cur)
		if err != nil {
			return false, err
		}
		if synced {
			return true, nil
		}
	}
	if ev.Field != entity.ParentField {
		return false, nil
	}
	for _, prev := range ev.Removed {
		synced, err := e.referenceSynced(ctx, prev)
		if err != nil {
			return false, err
		}
		if synced {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) referenceSynced(ctx context.Context, ref model.Reference) (bool, error) {
	parent, err := e.records.FindOne(ctx, ref.Type, ref.ID, []string{e.p.KeyField, e.p.SyncFlagField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return parent.Bool(e.p.SyncFlagField) || e.recordSynced(parent), nil
}
