package model

// ChangeEvent is a single field change notification from the record store.
// Scalar changes populate Old/New; list-field changes populate Added/Removed.
// InCreate marks events emitted as part of the record's initial creation.
type ChangeEvent struct {
	RecordType string
	RecordID   string
	Field      string
	Old        any
	New        any
	Added      []Reference
	Removed    []Reference
	InCreate   bool
}

// IsListChange reports whether the event carries list-field deltas rather
// than a scalar old/new pair.
func (e *ChangeEvent) IsListChange() bool {
	return len(e.Added) > 0 || len(e.Removed) > 0
}

// WebhookResource is the tracker resource class a webhook refers to.
type WebhookResource string

const (
	ResourceIssue   WebhookResource = "issue"
	ResourceComment WebhookResource = "comment"
	ResourceWorklog WebhookResource = "worklog"
)

// WebhookAction is what happened to the resource.
type WebhookAction string

const (
	ActionCreated WebhookAction = "created"
	ActionUpdated WebhookAction = "updated"
	ActionDeleted WebhookAction = "deleted"
)

// ChangelogItem is one field-level entry of an issue-updated webhook.
type ChangelogItem struct {
	FieldID string
	Field   string
	From    string
	To      string
}

// WebhookEvent is a change notification from the tracker. Issue events carry
// a changelog; comment and worklog events carry the sub-resource inline and
// no field-level detail.
type WebhookEvent struct {
	Resource WebhookResource
	Action   WebhookAction
	IssueKey string
	// IssueType and ProjectKey are carried inline by the webhook payload;
	// deletion events rely on them because the issue is already gone.
	IssueType  string
	ProjectKey string
	Changelog  []ChangelogItem
	Comment    *Comment
	Worklog    *Worklog
	// ActorAccountID identifies who caused the change; events authored by
	// the integration's own account are dropped to break sync loops.
	ActorAccountID string
}
