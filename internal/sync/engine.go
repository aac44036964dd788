// Package sync is the generic entity synchronization engine: it accepts or
// rejects change events from either side, translates fields, statuses, and
// hierarchy links per the configured entity mappings, and keeps the pair of
// records consistent without sync loops or duplicate sub-resources.
//
// The engine is stateless between calls; all persistent state lives in the
// two remote systems, addressed through the cross-reference fields.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tracksync.app/sync-server/internal/mapping"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
	"tracksync.app/sync-server/internal/translate"
)

// Profile names one synchronization configuration: the entity mappings plus
// the well-known field names on both sides. Zero-valued field names take
// defaults.
type Profile struct {
	Name     string
	Mappings []model.EntityMapping

	// Record-store side.
	KeyField          string // cross-reference holding the tracker key
	URLField          string // deep link to the tracker issue
	SyncFlagField     string // ready-to-sync checkbox
	DeletionField     string // deletion marker
	ProjectField      string // link to the owning project record
	ProjectKeyField   string // field on the project record naming the tracker project
	ProjectRecordType string
	AuthorField       string // creator link on records
	EmailField        string // contact address on user-like records

	// Tracker side: custom field display names, resolved to IDs at setup.
	RemoteTypeName string
	RemoteIDName   string
	RemoteURLName  string
	SyncBackName   string

	// TrackerBaseURL builds the deep link written onto the local record
	// after issue creation. Empty disables the write.
	TrackerBaseURL string

	CommentTemplate string
}

func (p Profile) withDefaults() Profile {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&p.KeyField, "tracker_key")
	def(&p.URLField, "tracker_url")
	def(&p.SyncFlagField, "sync_enabled")
	def(&p.DeletionField, "trashed")
	def(&p.ProjectField, "project")
	def(&p.ProjectKeyField, "tracker_project")
	def(&p.ProjectRecordType, "Project")
	def(&p.AuthorField, "author")
	def(&p.EmailField, "email")
	def(&p.RemoteTypeName, "Remote Type")
	def(&p.RemoteIDName, "Remote ID")
	def(&p.RemoteURLName, "Remote URL")
	def(&p.SyncBackName, "Sync Enabled")
	return p
}

// fieldIDs are the tracker custom field IDs resolved once at setup.
type fieldIDs struct {
	remoteType string
	remoteID   string
	remoteURL  string
	syncBack   string
}

// compiled is the immutable per-profile runtime shared by every worker.
type compiled struct {
	Profile
	table       *mapping.Table
	ids         fieldIDs
	self        model.User
	fetchFields map[string][]string // per record type
}

// Engine binds the compiled profile to one worker's pair of clients. It
// holds no cross-event state; a fresh Engine per dispatch is cheap.
type Engine struct {
	p          *compiled
	records    remote.RecordStore
	tracker    remote.IssueTracker
	translator translate.Translator
}

// compile validates the profile eagerly and resolves the tracker custom
// field IDs and the integration's own identity. Configuration errors here
// are fatal and must prevent startup.
func compile(ctx context.Context, p Profile, records remote.RecordStore, tracker remote.IssueTracker) (*compiled, error) {
	p = p.withDefaults()

	table, err := mapping.New(p.Mappings)
	if err != nil {
		return nil, err
	}

	c := &compiled{
		Profile:     p,
		table:       table,
		fetchFields: make(map[string][]string, len(p.Mappings)),
	}

	for _, m := range p.Mappings {
		entity, _ := table.ByRecordType(m.RecordType)
		c.fetchFields[m.RecordType] = c.fetchFieldsFor(entity)

		// An assignee-equivalent target must come from a user-capable
		// local field.
		for _, rule := range m.FieldMapping {
			if rule.TargetField != "assignee" {
				continue
			}
			schema, err := records.FieldSchema(ctx, m.RecordType, rule.SourceField)
			if err != nil {
				return nil, fmt.Errorf("%w: resolving %s.%s: %v", mapping.ErrInvalidConfig, m.RecordType, rule.SourceField, err)
			}
			if schema.Kind != model.FieldKindUser {
				return nil, fmt.Errorf("%w: %s.%s maps to assignee but is %s, not a user field",
					mapping.ErrInvalidConfig, m.RecordType, rule.SourceField, schema.Kind)
			}
		}
	}

	for name, dst := range map[string]*string{
		p.RemoteTypeName: &c.ids.remoteType,
		p.RemoteIDName:   &c.ids.remoteID,
		p.RemoteURLName:  &c.ids.remoteURL,
		p.SyncBackName:   &c.ids.syncBack,
	} {
		id, err := tracker.FieldIDByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: tracker field %q: %v", mapping.ErrInvalidConfig, name, err)
		}
		*dst = id
	}

	self, err := tracker.Myself(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving integration identity: %w", err)
	}
	c.self = *self

	return c, nil
}

// fetchFieldsFor is the full field set re-fetched for a record of this type:
// every declared source field plus the profile's well-known fields.
func (c *compiled) fetchFieldsFor(e *mapping.Entity) []string {
	seen := map[string]bool{}
	var fields []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for _, rule := range e.FieldMapping {
		add(rule.SourceField)
	}
	if e.StatusMapping != nil {
		add(e.StatusMapping.SourceField)
	}
	add(e.ParentField)
	add(c.KeyField)
	add(c.URLField)
	add(c.SyncFlagField)
	add(c.ProjectField)
	add(c.AuthorField)
	return fields
}

func (e *Engine) env(projectKey string) translate.Env {
	return translate.Env{
		Records:    e.records,
		Tracker:    e.tracker,
		ProjectKey: projectKey,
		KeyField:   e.p.KeyField,
		EmailField: e.p.EmailField,
	}
}

// recordSynced reports whether a record participates in sync and has been
// materialized on the tracker side.
func (e *Engine) recordSynced(rec *model.Record) bool {
	return rec.String(e.p.KeyField) != ""
}

// linkedProjectKey resolves the tracker project linked to a record's owning
// project, "" when the record has no project or the project is not linked.
func (e *Engine) linkedProjectKey(ctx context.Context, rec *model.Record) (string, error) {
	ref := rec.FirstReference(e.p.ProjectField)
	if ref == nil {
		return "", nil
	}
	project, err := e.records.FindOne(ctx, e.p.ProjectRecordType, ref.ID, []string{e.p.ProjectKeyField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return project.String(e.p.ProjectKeyField), nil
}

// resolveIssue resolves a record's cross-reference to its tracker issue,
// distinguishing absent from present-but-wrong-type.
func (e *Engine) resolveIssue(ctx context.Context, entity *mapping.Entity, rec *model.Record) (remote.Resolution, *model.Issue, error) {
	key := rec.String(e.p.KeyField)
	if key == "" {
		return remote.NotFound, nil, nil
	}
	issue, err := e.tracker.Issue(ctx, key)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return remote.NotFound, nil, nil
		}
		return remote.NotFound, nil, err
	}
	if issue.IssueType != entity.IssueType || issue.StringField(e.p.ids.remoteType) != rec.Type {
		slog.WarnContext(ctx, "cross-reference points at incompatible issue",
			"record_type", rec.Type, "record_id", rec.ID, "issue_key", key, "issue_type", issue.IssueType)
		return remote.Incompatible, nil, nil
	}
	return remote.Found, issue, nil
}

// trackerIssueURL is the deep link written onto the local record.
func (e *Engine) trackerIssueURL(key string) string {
	if e.p.TrackerBaseURL == "" {
		return ""
	}
	return strings.TrimRight(e.p.TrackerBaseURL, "/") + "/browse/" + key
}
