package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
	"tracksync.app/sync-server/internal/subkey"
)

// ProcessChange performs the create-or-update dispatch for an accepted
// record-store event. Synced is true iff at least one remote write occurred.
func (e *Engine) ProcessChange(ctx context.Context, ev model.ChangeEvent) (*Result, error) {
	st := &state{}

	entity, ok := e.p.table.ByRecordType(ev.RecordType)
	if !ok {
		return st.result(), nil
	}

	isDeletion := ev.Field == e.p.DeletionField
	rec, err := e.fetchForEvent(ctx, entity, ev.RecordID, isDeletion)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return st.result(), nil
		}
		return nil, err
	}

	if isDeletion {
		if err := e.deleteRemote(ctx, st, entity, rec); err != nil {
			return nil, err
		}
		return st.result(), nil
	}

	if entity.IsSubResource() {
		return e.processSubResource(ctx, st, entity, rec, ev)
	}
	return e.processIssueRecord(ctx, st, entity, rec, ev)
}

func (e *Engine) processIssueRecord(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, ev model.ChangeEvent) (*Result, error) {
	res, issue, err := e.resolveIssue(ctx, entity, rec)
	if err != nil {
		return nil, err
	}
	if e.recordSynced(rec) && res != remote.Found {
		// Fail closed: a dangling or wrong-type cross-reference must never
		// trigger silent re-creation.
		slog.WarnContext(ctx, "cross-reference did not resolve",
			"record_type", rec.Type, "record_id", rec.ID, "resolution", res.String())
		return st.result(), nil
	}

	projectKey, err := e.linkedProjectKey(ctx, rec)
	if err != nil {
		return nil, err
	}

	if issue == nil {
		issue, err = e.createIssue(ctx, st, entity, rec, projectKey)
		if err != nil || issue == nil {
			return st.result(), err
		}
		if err := e.fullSync(ctx, st, entity, rec, issue, projectKey); err != nil {
			return nil, err
		}
		return st.result(), nil
	}

	if ev.Field == e.p.SyncFlagField {
		if err := e.fullSync(ctx, st, entity, rec, issue, projectKey); err != nil {
			return nil, err
		}
		return st.result(), nil
	}

	if err := e.syncFields(ctx, st, entity, rec, issue, projectKey, &ev.Field); err != nil {
		return nil, err
	}
	return st.result(), nil
}

func (e *Engine) processSubResource(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, ev model.ChangeEvent) (*Result, error) {
	key := rec.String(e.p.KeyField)

	// Re-parenting runs before the create/update branch because dropping
	// the old parent link invalidates the stored composite key.
	if ev.Field == entity.ParentField {
		removed, err := e.handleReparent(ctx, st, entity, rec, ev)
		if err != nil {
			return nil, err
		}
		if removed {
			key = ""
		}
	}

	if key == "" {
		if err := e.createSubResource(ctx, st, entity, rec); err != nil {
			return nil, err
		}
		return st.result(), nil
	}

	if err := e.syncSubResource(ctx, st, entity, rec, key); err != nil {
		return nil, err
	}
	return st.result(), nil
}

// handleReparent deletes the remote sub-resource under the old parent when
// the parent link moved away from a synced record. Creation under the new
// parent is the caller's next step.
func (e *Engine) handleReparent(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, ev model.ChangeEvent) (bool, error) {
	key := rec.String(e.p.KeyField)
	if key == "" {
		return false, nil
	}
	oldSynced := false
	for _, prev := range ev.Removed {
		synced, err := e.referenceSynced(ctx, prev)
		if err != nil {
			return false, err
		}
		if synced {
			oldSynced = true
			break
		}
	}
	if !oldSynced {
		return false, nil
	}

	ck, err := subkey.Parse(key)
	if err != nil {
		return false, fmt.Errorf("record %s/%s: %w", rec.Type, rec.ID, err)
	}
	if err := e.deleteSubResource(ctx, entity, ck); err != nil {
		return false, err
	}
	st.wrote()
	if err := e.records.Update(ctx, rec.Type, rec.ID, map[string]any{e.p.KeyField: ""}); err != nil {
		return false, err
	}
	rec.Fields[e.p.KeyField] = ""
	return true, nil
}

// deleteRemote removes the tracker counterpart of a deleted record.
func (e *Engine) deleteRemote(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record) error {
	key := rec.String(e.p.KeyField)
	if key == "" {
		return nil
	}
	if entity.IsSubResource() {
		ck, err := subkey.Parse(key)
		if err != nil {
			return fmt.Errorf("record %s/%s: %w", rec.Type, rec.ID, err)
		}
		if err := e.deleteSubResource(ctx, entity, ck); err != nil {
			return err
		}
		st.wrote()
		return nil
	}
	if err := e.tracker.DeleteIssue(ctx, key); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	st.wrote()
	return nil
}

func (e *Engine) deleteSubResource(ctx context.Context, entity *mapping.Entity, ck subkey.Key) error {
	var err error
	switch entity.SubResource {
	case model.SubResourceComment:
		err = e.tracker.DeleteComment(ctx, ck.IssueKey, ck.SubID)
	case model.SubResourceWorklog:
		err = e.tracker.DeleteWorklog(ctx, ck.IssueKey, ck.SubID)
	}
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	return err
}

// fullSync re-evaluates every configured field and cascades to the record's
// dependent sub-resources, so enabling the sync flag produces one consistent
// bulk sync.
func (e *Engine) fullSync(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, issue *model.Issue, projectKey string) error {
	if err := e.syncFields(ctx, st, entity, rec, issue, projectKey, nil); err != nil {
		return err
	}
	for _, sub := range e.p.table.SubResources() {
		children, err := e.records.Find(ctx, sub.RecordType,
			remote.Filter{sub.ParentField: model.Reference{Type: rec.Type, ID: rec.ID}},
			e.p.fetchFields[sub.RecordType])
		if err != nil {
			return err
		}
		for i := range children {
			child := &children[i]
			if key := child.String(e.p.KeyField); key != "" {
				if err := e.syncSubResource(ctx, st, sub, child, key); err != nil {
					return err
				}
				continue
			}
			if err := e.createSubResource(ctx, st, sub, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncSubResource pushes a sub-resource record's mapped fields onto its
// existing tracker counterpart.
func (e *Engine) syncSubResource(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, key string) error {
	ck, err := subkey.Parse(key)
	if err != nil {
		return fmt.Errorf("record %s/%s: %w", rec.Type, rec.ID, err)
	}
	projectKey, err := e.linkedProjectKey(ctx, rec)
	if err != nil {
		return err
	}

	switch entity.SubResource {
	case model.SubResourceComment:
		if _, err := e.tracker.Comment(ctx, ck.IssueKey, ck.SubID); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				slog.WarnContext(ctx, "comment cross-reference did not resolve",
					"record_type", rec.Type, "record_id", rec.ID, "key", key)
				return nil
			}
			return err
		}
		body, err := e.translator.CommentBody(ctx, e.env(projectKey), rec)
		if err != nil {
			st.softf(ctx, "body", "rendering comment body: %v", err)
			return nil
		}
		if err := e.tracker.UpdateComment(ctx, ck.IssueKey, ck.SubID, body); err != nil {
			return err
		}
		st.wrote()
	case model.SubResourceWorklog:
		if _, err := e.tracker.Worklog(ctx, ck.IssueKey, ck.SubID); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				slog.WarnContext(ctx, "worklog cross-reference did not resolve",
					"record_type", rec.Type, "record_id", rec.ID, "key", key)
				return nil
			}
			return err
		}
		wl, err := e.buildWorklog(ctx, st, entity, rec, projectKey)
		if err != nil {
			return err
		}
		wl.ID = ck.SubID
		wl.IssueKey = ck.IssueKey
		if err := e.tracker.UpdateWorklog(ctx, ck.IssueKey, *wl); err != nil {
			return err
		}
		st.wrote()
	}
	return nil
}
