package remote

import (
	"context"

	"tracksync.app/sync-server/internal/model"
)

// Resolution distinguishes the three outcomes of resolving a cross-reference:
// the target exists and matches, the target is gone, or something exists
// under that key but is not what the reference claims. Incompatible is never
// folded into NotFound; a wrong-type link must not trigger re-creation.
type Resolution int

const (
	Found Resolution = iota
	NotFound
	Incompatible
)

func (r Resolution) String() string {
	switch r {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case Incompatible:
		return "incompatible"
	}
	return "unknown"
}

// IssueTracker is the tracker-side capability.
type IssueTracker interface {
	// Issue fetches an issue by key, ErrNotFound when absent.
	Issue(ctx context.Context, key string) (*model.Issue, error)
	CreateIssue(ctx context.Context, projectKey, issueType string, fields map[string]any) (*model.Issue, error)
	// UpdateIssue applies one batched field update.
	UpdateIssue(ctx context.Context, key string, fields map[string]any) error
	DeleteIssue(ctx context.Context, key string) error
	// EditableFields lists the fields editable on the issue's current
	// screen configuration, keyed by field ID.
	EditableFields(ctx context.Context, key string) (map[string]model.IssueFieldMeta, error)

	Transitions(ctx context.Context, key string) ([]model.Transition, error)
	Transition(ctx context.Context, key, transitionID string, fields map[string]any) error

	Comment(ctx context.Context, issueKey, commentID string) (*model.Comment, error)
	AddComment(ctx context.Context, issueKey, body string) (*model.Comment, error)
	UpdateComment(ctx context.Context, issueKey, commentID, body string) error
	DeleteComment(ctx context.Context, issueKey, commentID string) error

	Worklog(ctx context.Context, issueKey, worklogID string) (*model.Worklog, error)
	AddWorklog(ctx context.Context, issueKey string, wl model.Worklog) (*model.Worklog, error)
	UpdateWorklog(ctx context.Context, issueKey string, wl model.Worklog) error
	DeleteWorklog(ctx context.Context, issueKey, worklogID string) error

	// FindUserByEmail matches a tracker account by contact address within a
	// project's permission scope, ErrNotFound when no account matches.
	FindUserByEmail(ctx context.Context, email, projectKey string) (*model.User, error)
	// Myself is the integration's own identity, used for loop prevention
	// and as the fallback author.
	Myself(ctx context.Context) (*model.User, error)

	Watchers(ctx context.Context, key string) ([]model.User, error)
	AddWatcher(ctx context.Context, key, accountID string) error
	RemoveWatcher(ctx context.Context, key, accountID string) error

	// FieldIDByName resolves a custom field's ID from its display name,
	// ErrNotFound when the field does not exist.
	FieldIDByName(ctx context.Context, name string) (string, error)
	// FieldsOnScreen reports whether every given field ID is available on
	// the create screen of the project/issue-type combination.
	FieldsOnScreen(ctx context.Context, projectKey, issueType string, fieldIDs []string) (bool, error)
	IssueTypeExists(ctx context.Context, name, projectKey string) (bool, error)
	ProjectExists(ctx context.Context, key string) (bool, error)

	// SetParent sets or clears (parentKey == "") the upward hierarchy link.
	SetParent(ctx context.Context, key, parentKey string) error
	Children(ctx context.Context, key string) ([]model.Issue, error)
}
