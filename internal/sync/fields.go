package sync

import (
	"context"
	"errors"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// syncFields runs the field translation loop in declared order. only, when
// non-nil, restricts the pass to the single changed field. Converted fields
// accumulate into one batched issue update so each sync call issues at most
// one field write.
func (e *Engine) syncFields(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, issue *model.Issue, projectKey string, only *string) error {
	editable, err := e.tracker.EditableFields(ctx, issue.Key)
	if err != nil {
		return err
	}

	batch := map[string]any{}
	for _, rule := range entity.FieldMapping {
		if only != nil && rule.SourceField != *only {
			continue
		}
		if !entity.EffectiveDirection(rule).AllowsRecordToIssue() {
			continue
		}

		switch rule.TargetField {
		case "watchers":
			if err := e.reconcileWatchers(ctx, st, rec, issue, rule, projectKey); err != nil {
				return err
			}
		case model.ChildrenTarget, "parent":
			if err := e.reconcileHierarchy(ctx, st, rec, issue, rule); err != nil {
				return err
			}
		default:
			meta, ok := editable[rule.TargetField]
			if !ok {
				st.softf(ctx, rule.TargetField, "field not editable on issue %s", issue.Key)
				continue
			}
			value, ok := e.convertToIssue(ctx, st, rec, rule, projectKey, meta.List)
			if ok {
				batch[rule.TargetField] = value
			}
		}
	}

	if s := entity.StatusMapping; s != nil && (only == nil || *only == s.SourceField) {
		dir := s.Direction
		if dir == "" {
			dir = entity.EffectiveDirection(model.FieldRule{})
		}
		if dir.AllowsRecordToIssue() {
			if err := e.transitionStatus(ctx, st, entity, rec, issue); err != nil {
				return err
			}
		}
	}

	if len(batch) > 0 {
		if err := e.tracker.UpdateIssue(ctx, issue.Key, batch); err != nil {
			return err
		}
		st.wrote()
	}
	return nil
}

// convertToIssue converts one record field for the tracker. List-valued
// local fields map element-wise; non-list targets take the first non-empty
// converted element. An empty conversion of a non-empty source is a soft
// error.
func (e *Engine) convertToIssue(ctx context.Context, st *state, rec *model.Record, rule model.FieldRule, projectKey string, listTarget bool) (any, bool) {
	raw, present := rec.Fields[rule.SourceField]
	if !present || raw == nil {
		// Empty source clears the target.
		return nil, true
	}

	schema, err := e.records.FieldSchema(ctx, rec.Type, rule.SourceField)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		st.softf(ctx, rule.SourceField, "resolving field schema: %v", err)
		return nil, false
	}

	var elems []any
	switch v := raw.(type) {
	case []model.Reference:
		for _, ref := range v {
			elems = append(elems, ref)
		}
	case []any:
		elems = v
	default:
		elems = []any{v}
	}

	env := e.env(projectKey)
	var converted []any
	for _, elem := range elems {
		out, err := e.translator.ToIssue(ctx, env, schema, elem)
		if err != nil {
			st.softf(ctx, rule.SourceField, "converting value: %v", err)
			return nil, false
		}
		if out != nil {
			converted = append(converted, out)
		}
	}
	if len(converted) == 0 {
		st.softf(ctx, rule.SourceField, "no value survived conversion")
		return nil, false
	}
	if listTarget {
		return converted, true
	}
	return converted[0], true
}

// reconcileWatchers adds every current contact as a watcher and removes
// remote watchers no longer present locally.
func (e *Engine) reconcileWatchers(ctx context.Context, st *state, rec *model.Record, issue *model.Issue, rule model.FieldRule, projectKey string) error {
	env := e.env(projectKey)
	schema := &model.FieldSchema{Name: rule.SourceField, Kind: model.FieldKindUser, Multi: true}

	want := map[string]bool{}
	for _, ref := range rec.References(rule.SourceField) {
		out, err := e.translator.ToIssue(ctx, env, schema, ref)
		if err != nil {
			st.softf(ctx, rule.SourceField, "resolving watcher %s: %v", ref.Name, err)
			continue
		}
		accountID, _ := out.(string)
		if accountID == "" {
			st.softf(ctx, rule.SourceField, "watcher %s has no tracker account", ref.Name)
			continue
		}
		want[accountID] = true
	}

	existing, err := e.tracker.Watchers(ctx, issue.Key)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, u := range existing {
		have[u.AccountID] = true
	}

	for accountID := range want {
		if have[accountID] {
			continue
		}
		if err := e.tracker.AddWatcher(ctx, issue.Key, accountID); err != nil {
			return err
		}
		st.wrote()
	}
	for accountID := range have {
		if want[accountID] {
			continue
		}
		if err := e.tracker.RemoveWatcher(ctx, issue.Key, accountID); err != nil {
			return err
		}
		st.wrote()
	}
	return nil
}
