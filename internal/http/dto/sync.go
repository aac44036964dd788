package dto

import (
	"tracksync.app/sync-server/internal/model"
)

type ReferencePayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r ReferencePayload) Model() model.Reference {
	return model.Reference{Type: r.Type, ID: r.ID, Name: r.Name}
}

// ChangeEventRequest is one field change pushed by the record store.
type ChangeEventRequest struct {
	RecordType string             `json:"record_type" binding:"required"`
	RecordID   string             `json:"record_id" binding:"required"`
	Field      string             `json:"field" binding:"required"`
	Old        any                `json:"old,omitempty"`
	New        any                `json:"new,omitempty"`
	Added      []ReferencePayload `json:"added,omitempty"`
	Removed    []ReferencePayload `json:"removed,omitempty"`
	InCreate   bool               `json:"in_create,omitempty"`
}

func (r *ChangeEventRequest) Model() model.ChangeEvent {
	ev := model.ChangeEvent{
		RecordType: r.RecordType,
		RecordID:   r.RecordID,
		Field:      r.Field,
		Old:        r.Old,
		New:        r.New,
		InCreate:   r.InCreate,
	}
	for _, ref := range r.Added {
		ev.Added = append(ev.Added, ref.Model())
	}
	for _, ref := range r.Removed {
		ev.Removed = append(ev.Removed, ref.Model())
	}
	return ev
}

type ChangelogItemPayload struct {
	FieldID string `json:"field_id,omitempty"`
	Field   string `json:"field"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
}

type CommentPayload struct {
	ID       string `json:"id" binding:"required"`
	IssueKey string `json:"issue_key"`
	Body     string `json:"body"`
	AuthorID string `json:"author_id,omitempty"`
}

type WorklogPayload struct {
	ID       string `json:"id" binding:"required"`
	IssueKey string `json:"issue_key"`
	Comment  string `json:"comment,omitempty"`
	Started  string `json:"started"`
	Seconds  int64  `json:"seconds"`
	AuthorID string `json:"author_id,omitempty"`
}

// WebhookEventRequest is a change notification from the issue tracker.
// Issue type and project key ride along in the payload so deletion events
// stay resolvable after the issue itself is gone.
type WebhookEventRequest struct {
	Resource       string                 `json:"resource" binding:"required"`
	Action         string                 `json:"action" binding:"required"`
	IssueKey       string                 `json:"issue_key" binding:"required"`
	IssueType      string                 `json:"issue_type,omitempty"`
	ProjectKey     string                 `json:"project_key,omitempty"`
	Changelog      []ChangelogItemPayload `json:"changelog,omitempty"`
	Comment        *CommentPayload        `json:"comment,omitempty"`
	Worklog        *WorklogPayload        `json:"worklog,omitempty"`
	ActorAccountID string                 `json:"actor_account_id,omitempty"`
}

func (r *WebhookEventRequest) Model() model.WebhookEvent {
	ev := model.WebhookEvent{
		Resource:       model.WebhookResource(r.Resource),
		Action:         model.WebhookAction(r.Action),
		IssueKey:       r.IssueKey,
		IssueType:      r.IssueType,
		ProjectKey:     r.ProjectKey,
		ActorAccountID: r.ActorAccountID,
	}
	for _, item := range r.Changelog {
		ev.Changelog = append(ev.Changelog, model.ChangelogItem{
			FieldID: item.FieldID,
			Field:   item.Field,
			From:    item.From,
			To:      item.To,
		})
	}
	if r.Comment != nil {
		ev.Comment = &model.Comment{
			ID:       r.Comment.ID,
			IssueKey: r.Comment.IssueKey,
			Body:     r.Comment.Body,
			AuthorID: r.Comment.AuthorID,
		}
	}
	if r.Worklog != nil {
		ev.Worklog = &model.Worklog{
			ID:       r.Worklog.ID,
			IssueKey: r.Worklog.IssueKey,
			Comment:  r.Worklog.Comment,
			Started:  r.Worklog.Started,
			Seconds:  r.Worklog.Seconds,
			AuthorID: r.Worklog.AuthorID,
		}
	}
	return ev
}

type SkippedFieldResponse struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type SyncResponse struct {
	Synced  bool                   `json:"synced"`
	Skipped []SkippedFieldResponse `json:"skipped,omitempty"`
}
