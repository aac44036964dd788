package sync

import (
	"context"
	"errors"
	"log/slog"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
	"tracksync.app/sync-server/internal/subkey"
)

// createIssue materializes a top-level record as a tracker issue and writes
// the cross-reference back onto the record. The write-back is the only local
// persisted write the engine performs for tracker-side creation.
func (e *Engine) createIssue(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, projectKey string) (*model.Issue, error) {
	author, err := e.resolveAuthor(ctx, rec, projectKey)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		e.p.ids.remoteType: rec.Type,
		e.p.ids.remoteID:   rec.ID,
		e.p.ids.remoteURL:  e.records.PageURL(rec),
		// Sync back is off only for one-way record-to-issue mappings.
		e.p.ids.syncBack: entity.Direction != model.SyncRecordToIssue,
	}
	if author != nil {
		fields["reporter"] = author.AccountID
	}
	e.buildCreateFields(ctx, st, entity, rec, projectKey, fields)

	issue, err := e.tracker.CreateIssue(ctx, projectKey, entity.IssueType, fields)
	if err != nil {
		return nil, err
	}
	st.wrote()

	writeBack := map[string]any{e.p.KeyField: issue.Key}
	if url := e.trackerIssueURL(issue.Key); url != "" {
		writeBack[e.p.URLField] = url
	}
	if err := e.records.Update(ctx, rec.Type, rec.ID, writeBack); err != nil {
		return nil, err
	}
	rec.Fields[e.p.KeyField] = issue.Key

	slog.InfoContext(ctx, "issue created",
		"record_type", rec.Type, "record_id", rec.ID, "issue_key", issue.Key)
	return issue, nil
}

// resolveAuthor matches the record's creator to a tracker account by contact
// address, falling back to the integration's own identity.
func (e *Engine) resolveAuthor(ctx context.Context, rec *model.Record, projectKey string) (*model.User, error) {
	ref := rec.FirstReference(e.p.AuthorField)
	if ref == nil {
		return &e.p.self, nil
	}
	creator, err := e.records.FindOne(ctx, ref.Type, ref.ID, []string{e.p.EmailField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return &e.p.self, nil
		}
		return nil, err
	}
	email := creator.String(e.p.EmailField)
	if email == "" {
		return &e.p.self, nil
	}
	user, err := e.tracker.FindUserByEmail(ctx, email, projectKey)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return &e.p.self, nil
		}
		return nil, err
	}
	return user, nil
}

// buildCreateFields translates the mapped fields into the creation payload.
// Status, hierarchy, and watcher bindings are applied by the full sync that
// follows creation.
func (e *Engine) buildCreateFields(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, projectKey string, fields map[string]any) {
	for _, rule := range entity.FieldMapping {
		if !entity.EffectiveDirection(rule).AllowsRecordToIssue() {
			continue
		}
		switch rule.TargetField {
		case model.ChildrenTarget, "parent", "watchers":
			continue
		}
		value, ok := e.convertToIssue(ctx, st, rec, rule, projectKey, false)
		if ok {
			fields[rule.TargetField] = value
		}
	}
}

// createSubResource creates the tracker comment or worklog under the first
// synced parent and stores the composite key on the record.
func (e *Engine) createSubResource(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record) error {
	parentKey, err := e.syncedParentKey(ctx, entity, rec)
	if err != nil {
		return err
	}
	if parentKey == "" {
		slog.WarnContext(ctx, "sub-resource has no synced parent",
			"record_type", rec.Type, "record_id", rec.ID)
		return nil
	}
	projectKey, err := e.linkedProjectKey(ctx, rec)
	if err != nil {
		return err
	}

	var subID string
	switch entity.SubResource {
	case model.SubResourceComment:
		body, err := e.translator.CommentBody(ctx, e.env(projectKey), rec)
		if err != nil {
			st.softf(ctx, "body", "rendering comment body: %v", err)
			return nil
		}
		comment, err := e.tracker.AddComment(ctx, parentKey, body)
		if err != nil {
			return err
		}
		subID = comment.ID
	case model.SubResourceWorklog:
		wl, err := e.buildWorklog(ctx, st, entity, rec, projectKey)
		if err != nil {
			return err
		}
		created, err := e.tracker.AddWorklog(ctx, parentKey, *wl)
		if err != nil {
			return err
		}
		subID = created.ID
	}
	st.wrote()

	key := subkey.New(parentKey, subID)
	if err := e.records.Update(ctx, rec.Type, rec.ID, map[string]any{e.p.KeyField: key.String()}); err != nil {
		return err
	}
	rec.Fields[e.p.KeyField] = key.String()

	slog.InfoContext(ctx, "sub-resource created",
		"record_type", rec.Type, "record_id", rec.ID, "key", key.String())
	return nil
}

// syncedParentKey resolves the first parent link pointing at a record that
// is already materialized as a tracker issue.
func (e *Engine) syncedParentKey(ctx context.Context, entity *mapping.Entity, rec *model.Record) (string, error) {
	for _, ref := range rec.References(entity.ParentField) {
		parent, err := e.records.FindOne(ctx, ref.Type, ref.ID, []string{e.p.KeyField})
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				continue
			}
			return "", err
		}
		if key := parent.String(e.p.KeyField); key != "" {
			return key, nil
		}
	}
	return "", nil
}

// buildWorklog translates a worklog-like record's mapped fields into the
// tracker worklog shape.
func (e *Engine) buildWorklog(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, projectKey string) (*model.Worklog, error) {
	wl := &model.Worklog{}
	for _, rule := range entity.FieldMapping {
		if !entity.EffectiveDirection(rule).AllowsRecordToIssue() {
			continue
		}
		value, ok := e.convertToIssue(ctx, st, rec, rule, projectKey, false)
		if !ok {
			continue
		}
		switch rule.TargetField {
		case "comment":
			wl.Comment, _ = value.(string)
		case "started":
			wl.Started, _ = value.(string)
		case "timeSpentSeconds":
			wl.Seconds, _ = value.(int64)
		}
	}
	return wl, nil
}
