package sync

import (
	"context"
	"errors"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// reconcileHierarchy synchronizes parent/child issue links from a record's
// relationship field. Parent mode sets or clears the issue's own upward
// link; children mode points every linked record's issue at this one and
// clears stale links, so removals converge without an explicit removal
// event.
func (e *Engine) reconcileHierarchy(ctx context.Context, st *state, rec *model.Record, issue *model.Issue, rule model.FieldRule) error {
	if rule.TargetField == model.ChildrenTarget {
		return e.reconcileChildren(ctx, st, rec, issue, rule)
	}
	return e.reconcileParent(ctx, st, rec, issue, rule)
}

func (e *Engine) reconcileParent(ctx context.Context, st *state, rec *model.Record, issue *model.Issue, rule model.FieldRule) error {
	ref := rec.FirstReference(rule.SourceField)
	if ref == nil {
		if issue.ParentKey == "" {
			return nil
		}
		if err := e.tracker.SetParent(ctx, issue.Key, ""); err != nil {
			return err
		}
		issue.ParentKey = ""
		st.wrote()
		return nil
	}

	parentKey, err := e.linkedIssueKey(ctx, *ref)
	if err != nil {
		return err
	}
	if parentKey == "" {
		st.softf(ctx, rule.SourceField, "linked record %s/%s has no tracker issue", ref.Type, ref.ID)
		return nil
	}
	if issue.ParentKey == parentKey {
		return nil
	}
	if err := e.tracker.SetParent(ctx, issue.Key, parentKey); err != nil {
		return err
	}
	issue.ParentKey = parentKey
	st.wrote()
	return nil
}

func (e *Engine) reconcileChildren(ctx context.Context, st *state, rec *model.Record, issue *model.Issue, rule model.FieldRule) error {
	linked := map[string]bool{}
	for _, ref := range rec.References(rule.SourceField) {
		childKey, err := e.linkedIssueKey(ctx, ref)
		if err != nil {
			return err
		}
		if childKey == "" {
			st.softf(ctx, rule.SourceField, "linked record %s/%s is unmapped or not yet created", ref.Type, ref.ID)
			continue
		}
		linked[childKey] = true
		if err := e.tracker.SetParent(ctx, childKey, issue.Key); err != nil {
			return err
		}
		st.wrote()
	}

	children, err := e.tracker.Children(ctx, issue.Key)
	if err != nil {
		return err
	}
	for _, child := range children {
		if linked[child.Key] {
			continue
		}
		if err := e.tracker.SetParent(ctx, child.Key, ""); err != nil {
			return err
		}
		st.wrote()
	}
	return nil
}

// linkedIssueKey resolves a record reference to its tracker issue key, ""
// when the record type is unmapped or the record never synced.
func (e *Engine) linkedIssueKey(ctx context.Context, ref model.Reference) (string, error) {
	if _, ok := e.p.table.ByRecordType(ref.Type); !ok {
		return "", nil
	}
	linked, err := e.records.FindOne(ctx, ref.Type, ref.ID, []string{e.p.KeyField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return linked.String(e.p.KeyField), nil
}
