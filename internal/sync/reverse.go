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

// AcceptWebhook validates a tracker webhook against configuration and
// current state, mirroring AcceptChange for the reverse direction.
func (e *Engine) AcceptWebhook(ctx context.Context, ev model.WebhookEvent) (bool, error) {
	reject := func(reason string, args ...any) (bool, error) {
		args = append([]any{"resource", ev.Resource, "action", ev.Action, "issue_key", ev.IssueKey, "reason", reason}, args...)
		slog.DebugContext(ctx, "webhook rejected", args...)
		return false, nil
	}

	switch ev.Resource {
	case model.ResourceIssue:
	case model.ResourceComment:
		if _, ok := e.p.table.SubResourceByKind(model.SubResourceComment); !ok {
			return reject("comments not configured")
		}
	case model.ResourceWorklog:
		if _, ok := e.p.table.SubResourceByKind(model.SubResourceWorklog); !ok {
			return reject("worklogs not configured")
		}
	default:
		return reject("unsupported resource kind")
	}

	switch ev.Action {
	case model.ActionCreated, model.ActionUpdated, model.ActionDeleted:
	default:
		return reject("unsupported action")
	}

	// Loop prevention compares account identity, not display name.
	if ev.ActorAccountID != "" && ev.ActorAccountID == e.p.self.AccountID {
		return reject("self-authored event")
	}

	issueDeleted := ev.Resource == model.ResourceIssue && ev.Action == model.ActionDeleted

	issueType := ev.IssueType
	projectKey := ev.ProjectKey
	var issue *model.Issue
	if !issueDeleted {
		var err error
		issue, err = e.tracker.Issue(ctx, ev.IssueKey)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return reject("issue not fetchable")
			}
			return false, err
		}
		issueType = issue.IssueType
		projectKey = issue.ProjectKey
	}

	entity, ok := e.p.table.ByIssueType(issueType)
	if !ok {
		return reject("issue type not configured", "issue_type", issueType)
	}

	affected := entity
	if ev.Resource == model.ResourceComment {
		affected, _ = e.p.table.SubResourceByKind(model.SubResourceComment)
	} else if ev.Resource == model.ResourceWorklog {
		affected, _ = e.p.table.SubResourceByKind(model.SubResourceWorklog)
	}

	dir := affected.Direction
	if dir == "" {
		dir = model.SyncBothWays
	}
	if !dir.AllowsIssueToRecord() {
		return reject("direction excludes issue-to-record")
	}

	if ev.Action == model.ActionDeleted && !affected.DeletionAllowed(false) {
		return reject("deletion sync disabled")
	}

	if projectKey == "" {
		return reject("issue has no project")
	}
	projects, err := e.records.Find(ctx, e.p.ProjectRecordType,
		remote.Filter{e.p.ProjectKeyField: projectKey}, []string{e.p.ProjectKeyField})
	if err != nil {
		return false, err
	}
	if len(projects) == 0 {
		return reject("project not linked", "project", projectKey)
	}

	if issue != nil && !issue.BoolField(e.p.ids.syncBack) {
		return reject("sync not enabled on issue")
	}

	return true, nil
}

// ProcessWebhook applies an accepted tracker webhook to the record store.
func (e *Engine) ProcessWebhook(ctx context.Context, ev model.WebhookEvent) (*Result, error) {
	st := &state{}
	var err error
	switch ev.Resource {
	case model.ResourceIssue:
		err = e.processIssueWebhook(ctx, st, ev)
	case model.ResourceComment, model.ResourceWorklog:
		err = e.processSubWebhook(ctx, st, ev)
	}
	if err != nil {
		return nil, err
	}
	return st.result(), nil
}

func (e *Engine) processIssueWebhook(ctx context.Context, st *state, ev model.WebhookEvent) error {
	issueType := ev.IssueType
	var issue *model.Issue
	if ev.Action != model.ActionDeleted {
		var err error
		issue, err = e.tracker.Issue(ctx, ev.IssueKey)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return nil
			}
			return err
		}
		issueType = issue.IssueType
	}
	entity, ok := e.p.table.ByIssueType(issueType)
	if !ok {
		return nil
	}

	local, err := e.localByKey(ctx, entity, ev.IssueKey)
	if err != nil {
		return err
	}

	if ev.Action == model.ActionDeleted {
		if local == nil {
			return nil
		}
		if err := e.records.Delete(ctx, local.Type, local.ID); err != nil {
			return err
		}
		st.wrote()
		return nil
	}

	if local == nil {
		if ev.Action != model.ActionCreated {
			// Orphaned: a tracked key with no local counterpart is never
			// silently re-created, to avoid duplicate chains.
			slog.WarnContext(ctx, "no local counterpart for issue", "issue_key", ev.IssueKey)
			return nil
		}
		return e.createLocalRecord(ctx, st, entity, issue)
	}

	data := map[string]any{}
	if ev.Action == model.ActionCreated || len(ev.Changelog) == 0 {
		e.buildLocalFields(ctx, st, entity, issue, data)
	} else {
		for _, item := range ev.Changelog {
			e.applyChangelogItem(ctx, st, entity, issue, item, data)
		}
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.records.Update(ctx, local.Type, local.ID, data); err != nil {
		return err
	}
	st.wrote()
	return nil
}

// createLocalRecord mirrors issue creation into the record store and stamps
// the cross-reference onto both sides.
func (e *Engine) createLocalRecord(ctx context.Context, st *state, entity *mapping.Entity, issue *model.Issue) error {
	projects, err := e.records.Find(ctx, e.p.ProjectRecordType,
		remote.Filter{e.p.ProjectKeyField: issue.ProjectKey}, nil)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		return nil
	}

	data := map[string]any{
		e.p.KeyField:      issue.Key,
		e.p.SyncFlagField: true,
		e.p.ProjectField:  model.Reference{Type: projects[0].Type, ID: projects[0].ID},
	}
	if url := e.trackerIssueURL(issue.Key); url != "" {
		data[e.p.URLField] = url
	}
	e.buildLocalFields(ctx, st, entity, issue, data)

	rec, err := e.records.Create(ctx, entity.RecordType, data)
	if err != nil {
		return err
	}
	st.wrote()

	err = e.tracker.UpdateIssue(ctx, issue.Key, map[string]any{
		e.p.ids.remoteType: rec.Type,
		e.p.ids.remoteID:   rec.ID,
		e.p.ids.remoteURL:  e.records.PageURL(rec),
	})
	if err != nil {
		return err
	}
	st.wrote()

	slog.InfoContext(ctx, "local record created",
		"record_type", rec.Type, "record_id", rec.ID, "issue_key", issue.Key)
	return nil
}

// buildLocalFields applies the inverse of every configured field rule,
// including inverse status and inverse hierarchy resolution.
func (e *Engine) buildLocalFields(ctx context.Context, st *state, entity *mapping.Entity, issue *model.Issue, data map[string]any) {
	for _, rule := range entity.FieldMapping {
		if !entity.EffectiveDirection(rule).AllowsIssueToRecord() {
			continue
		}
		switch rule.TargetField {
		case model.ChildrenTarget, "watchers":
			continue
		case "parent":
			e.applyParentInverse(ctx, st, rule, issue.ParentKey, data)
		default:
			value, ok := e.convertToRecord(ctx, st, entity, rule, issue.Fields[rule.TargetField])
			if ok {
				data[rule.SourceField] = value
			}
		}
	}
	if s := entity.StatusMapping; s != nil {
		dir := s.Direction
		if dir == "" {
			dir = entity.EffectiveDirection(model.FieldRule{})
		}
		if dir.AllowsIssueToRecord() && issue.Status != "" {
			if code, ok := entity.StatusCode(issue.Status); ok {
				data[s.SourceField] = code
			} else {
				st.softf(ctx, s.SourceField, "status %q has no reverse mapping", issue.Status)
			}
		}
	}
}

// applyChangelogItem translates one field-level webhook change.
func (e *Engine) applyChangelogItem(ctx context.Context, st *state, entity *mapping.Entity, issue *model.Issue, item model.ChangelogItem, data map[string]any) {
	if item.Field == "status" || item.FieldID == "status" {
		s := entity.StatusMapping
		if s == nil {
			return
		}
		dir := s.Direction
		if dir == "" {
			dir = entity.EffectiveDirection(model.FieldRule{})
		}
		if !dir.AllowsIssueToRecord() {
			return
		}
		if code, ok := entity.StatusCode(item.To); ok {
			data[s.SourceField] = code
		} else {
			st.softf(ctx, s.SourceField, "status %q has no reverse mapping", item.To)
		}
		return
	}

	rule, ok := entity.RuleForTarget(item.FieldID)
	if !ok {
		rule, ok = entity.RuleForTarget(item.Field)
	}
	if !ok || !entity.EffectiveDirection(rule).AllowsIssueToRecord() {
		return
	}

	switch rule.TargetField {
	case model.ChildrenTarget, "watchers":
		return
	case "parent":
		e.applyParentInverse(ctx, st, rule, issue.ParentKey, data)
		return
	}

	value, ok := e.convertToRecord(ctx, st, entity, rule, issue.Fields[rule.TargetField])
	if ok {
		data[rule.SourceField] = value
	}
}

// applyParentInverse resolves the parent issue's own local cross-reference
// into the record's parent link field.
func (e *Engine) applyParentInverse(ctx context.Context, st *state, rule model.FieldRule, parentKey string, data map[string]any) {
	if parentKey == "" {
		// An empty link list, not nil: the record store clears a link field
		// by replacing its links, a nil value would merge as a scalar.
		data[rule.SourceField] = []model.Reference{}
		return
	}
	parentIssue, err := e.tracker.Issue(ctx, parentKey)
	if err != nil {
		st.softf(ctx, rule.SourceField, "fetching parent issue %s: %v", parentKey, err)
		return
	}
	remoteType := parentIssue.StringField(e.p.ids.remoteType)
	remoteID := parentIssue.StringField(e.p.ids.remoteID)
	if remoteType == "" || remoteID == "" {
		st.softf(ctx, rule.SourceField, "parent issue %s has no cross-reference", parentKey)
		return
	}
	data[rule.SourceField] = model.Reference{Type: remoteType, ID: remoteID}
}

func (e *Engine) convertToRecord(ctx context.Context, st *state, entity *mapping.Entity, rule model.FieldRule, value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	schema, err := e.records.FieldSchema(ctx, entity.RecordType, rule.SourceField)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		st.softf(ctx, rule.SourceField, "resolving field schema: %v", err)
		return nil, false
	}
	out, err := e.translator.ToRecord(ctx, e.env(""), schema, value)
	if err != nil {
		st.softf(ctx, rule.SourceField, "converting value: %v", err)
		return nil, false
	}
	if out == nil {
		st.softf(ctx, rule.SourceField, "no value survived conversion")
		return nil, false
	}
	return out, true
}

// localByKey finds the record holding a cross-reference key, nil when no
// counterpart exists.
func (e *Engine) localByKey(ctx context.Context, entity *mapping.Entity, key string) (*model.Record, error) {
	matches, err := e.records.Find(ctx, entity.RecordType,
		remote.Filter{e.p.KeyField: key}, e.p.fetchFields[entity.RecordType])
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// processSubWebhook mirrors tracker comment/worklog changes onto their
// dependent records, addressed by composite key.
func (e *Engine) processSubWebhook(ctx context.Context, st *state, ev model.WebhookEvent) error {
	kind := model.SubResourceComment
	subID := ""
	if ev.Resource == model.ResourceWorklog {
		kind = model.SubResourceWorklog
		if ev.Worklog != nil {
			subID = ev.Worklog.ID
		}
	} else if ev.Comment != nil {
		subID = ev.Comment.ID
	}
	entity, ok := e.p.table.SubResourceByKind(kind)
	if !ok || subID == "" {
		return nil
	}

	key := subkey.New(ev.IssueKey, subID).String()
	local, err := e.localByKey(ctx, entity, key)
	if err != nil {
		return err
	}

	switch ev.Action {
	case model.ActionDeleted:
		if local == nil {
			return nil
		}
		if err := e.records.Delete(ctx, local.Type, local.ID); err != nil {
			return err
		}
		st.wrote()
		return nil

	case model.ActionCreated:
		if local != nil {
			return nil
		}
		return e.createLocalSubResource(ctx, st, entity, ev, key)

	default:
		if local == nil {
			slog.WarnContext(ctx, "no local counterpart for sub-resource", "key", key)
			return nil
		}
		data := map[string]any{}
		e.buildSubFields(ctx, st, entity, ev, data)
		if len(data) == 0 {
			return nil
		}
		if err := e.records.Update(ctx, local.Type, local.ID, data); err != nil {
			return err
		}
		st.wrote()
		return nil
	}
}

func (e *Engine) createLocalSubResource(ctx context.Context, st *state, entity *mapping.Entity, ev model.WebhookEvent, key string) error {
	issue, err := e.tracker.Issue(ctx, ev.IssueKey)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	parentEntity, ok := e.p.table.ByIssueType(issue.IssueType)
	if !ok {
		return nil
	}
	parent, err := e.localByKey(ctx, parentEntity, ev.IssueKey)
	if err != nil {
		return err
	}
	if parent == nil {
		slog.WarnContext(ctx, "sub-resource parent has no local counterpart", "issue_key", ev.IssueKey)
		return nil
	}

	data := map[string]any{
		e.p.KeyField:       key,
		entity.ParentField: model.Reference{Type: parent.Type, ID: parent.ID},
	}
	if ref := parent.FirstReference(e.p.ProjectField); ref != nil {
		data[e.p.ProjectField] = *ref
	}
	e.buildSubFields(ctx, st, entity, ev, data)

	if _, err := e.records.Create(ctx, entity.RecordType, data); err != nil {
		return err
	}
	st.wrote()
	return nil
}

// buildSubFields applies the inverse field rules to a comment/worklog
// payload, which carries no field-level changelog.
func (e *Engine) buildSubFields(ctx context.Context, st *state, entity *mapping.Entity, ev model.WebhookEvent, data map[string]any) {
	payload := func(target string) any {
		if ev.Comment != nil {
			switch target {
			case "body":
				return ev.Comment.Body
			case "author":
				return model.User{AccountID: ev.Comment.AuthorID}
			}
		}
		if ev.Worklog != nil {
			switch target {
			case "comment":
				return ev.Worklog.Comment
			case "started":
				return ev.Worklog.Started
			case "timeSpentSeconds":
				return ev.Worklog.Seconds
			case "author":
				return model.User{AccountID: ev.Worklog.AuthorID}
			}
		}
		return nil
	}

	for _, rule := range entity.FieldMapping {
		if !entity.EffectiveDirection(rule).AllowsIssueToRecord() {
			continue
		}
		value, ok := e.convertToRecord(ctx, st, entity, rule, payload(rule.TargetField))
		if ok && value != nil {
			data[rule.SourceField] = value
		}
	}
}
