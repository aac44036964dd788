package sync

import (
	"context"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
)

// transitionStatus moves the issue to the status mapped from the record's
// current status code. A missing mapping or missing transition is a soft
// error; the status is left unchanged.
func (e *Engine) transitionStatus(ctx context.Context, st *state, entity *mapping.Entity, rec *model.Record, issue *model.Issue) error {
	code := rec.String(entity.StatusMapping.SourceField)
	target, ok := entity.StatusName(code)
	if !ok {
		st.softf(ctx, entity.StatusMapping.SourceField, "status code %q has no mapping", code)
		return nil
	}
	if issue.Status == target {
		return nil
	}

	transitions, err := e.tracker.Transitions(ctx, issue.Key)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		if t.TargetStatus != target {
			continue
		}
		fields := transitionDefaults(t, issue)
		if err := e.tracker.Transition(ctx, issue.Key, t.ID, fields); err != nil {
			return err
		}
		issue.Status = target
		st.wrote()
		return nil
	}

	st.softf(ctx, entity.StatusMapping.SourceField, "no transition to %q from %q", target, issue.Status)
	return nil
}

// transitionDefaults auto-fills required-but-empty transition fields: text
// fields default to the issue's own comment text, enumerated resolution
// fields to their first allowed value.
func transitionDefaults(t model.Transition, issue *model.Issue) map[string]any {
	if len(t.RequiredFields) == 0 {
		return nil
	}
	fields := map[string]any{}
	for _, f := range t.RequiredFields {
		switch f.Kind {
		case "text":
			text := issue.StringField("comment")
			if text == "" {
				text = issue.StringField("summary")
			}
			fields[f.ID] = text
		case "resolution":
			if len(f.AllowedValues) > 0 {
				fields[f.ID] = f.AllowedValues[0]
			}
		}
	}
	return fields
}
