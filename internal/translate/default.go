package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

// Default is the stock translator: entity references resolve through the
// cross-reference field or fall back to the display name, users match by
// contact address, dates re-format between the two systems' layouts, and
// durations convert minutes to seconds.
type Default struct {
	commentTmpl *template.Template
}

const defaultCommentTemplate = "{{if .Author}}{{.Author}} wrote:\n\n{{end}}{{.Text}}"

// NewDefault builds the stock translator. commentTemplate may be empty to use
// the built-in comment body format.
func NewDefault(commentTemplate string) (*Default, error) {
	if commentTemplate == "" {
		commentTemplate = defaultCommentTemplate
	}
	tmpl, err := template.New("comment").Parse(commentTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing comment template: %w", err)
	}
	return &Default{commentTmpl: tmpl}, nil
}

func (d *Default) ToIssue(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	kind := model.FieldKindScalar
	if schema != nil {
		kind = schema.Kind
	}

	switch kind {
	case model.FieldKindUser:
		return d.userToIssue(ctx, env, value)
	case model.FieldKindLink:
		return d.referenceToIssue(ctx, env, value)
	case model.FieldKindDate:
		return reformatDate(value, recordDateLayouts, trackerDateLayout)
	case model.FieldKindDuration:
		return minutesToSeconds(value)
	case model.FieldKindCheckbox:
		b, ok := value.(bool)
		if !ok {
			return nil, nil
		}
		return b, nil
	default:
		if ref, ok := value.(model.Reference); ok {
			return d.referenceToIssue(ctx, env, ref)
		}
		return value, nil
	}
}

func (d *Default) ToRecord(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	kind := model.FieldKindScalar
	if schema != nil {
		kind = schema.Kind
	}

	switch kind {
	case model.FieldKindUser:
		return d.userToRecord(ctx, env, schema, value)
	case model.FieldKindLink:
		return d.referenceToRecord(ctx, env, schema, value)
	case model.FieldKindDate:
		return reformatDate(value, []string{trackerDateLayout, time.RFC3339}, recordDateLayouts[0])
	case model.FieldKindDuration:
		return secondsToMinutes(value)
	case model.FieldKindCheckbox:
		b, ok := value.(bool)
		if !ok {
			return nil, nil
		}
		return b, nil
	default:
		return value, nil
	}
}

type commentData struct {
	Author string
	Text   string
}

func (d *Default) CommentBody(ctx context.Context, env Env, record *model.Record) (string, error) {
	author := ""
	if ref := record.FirstReference("author"); ref != nil {
		author = ref.Name
	}
	var b strings.Builder
	err := d.commentTmpl.Execute(&b, commentData{Author: author, Text: record.String("text")})
	if err != nil {
		return "", fmt.Errorf("rendering comment body: %w", err)
	}
	return b.String(), nil
}

// userToIssue matches the referenced user record's contact address against
// tracker accounts. No match yields nil so the engine can fall back or skip.
func (d *Default) userToIssue(ctx context.Context, env Env, value any) (any, error) {
	ref, ok := value.(model.Reference)
	if !ok {
		return nil, nil
	}
	userRec, err := env.Records.FindOne(ctx, ref.Type, ref.ID, []string{env.EmailField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	email := userRec.String(env.EmailField)
	if email == "" {
		return nil, nil
	}
	user, err := env.Tracker.FindUserByEmail(ctx, email, env.ProjectKey)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user.AccountID, nil
}

func (d *Default) userToRecord(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error) {
	user, ok := value.(model.User)
	if !ok {
		if p, isPtr := value.(*model.User); isPtr && p != nil {
			user = *p
			ok = true
		}
	}
	if !ok || user.Email == "" || schema == nil || len(schema.TargetTypes) == 0 {
		return nil, nil
	}
	matches, err := env.Records.Find(ctx, schema.TargetTypes[0], remote.Filter{env.EmailField: user.Email}, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return model.Reference{Type: matches[0].Type, ID: matches[0].ID}, nil
}

// referenceToIssue resolves a linked record to its tracker key; records that
// never synced fall back to their display name.
func (d *Default) referenceToIssue(ctx context.Context, env Env, value any) (any, error) {
	ref, ok := value.(model.Reference)
	if !ok {
		return value, nil
	}
	linked, err := env.Records.FindOne(ctx, ref.Type, ref.ID, []string{env.KeyField})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return ref.Name, nil
		}
		return nil, err
	}
	if key := linked.String(env.KeyField); key != "" {
		return key, nil
	}
	if ref.Name == "" {
		return nil, nil
	}
	return ref.Name, nil
}

func (d *Default) referenceToRecord(ctx context.Context, env Env, schema *model.FieldSchema, value any) (any, error) {
	key, ok := value.(string)
	if !ok || key == "" || schema == nil || len(schema.TargetTypes) == 0 {
		return nil, nil
	}
	matches, err := env.Records.Find(ctx, schema.TargetTypes[0], remote.Filter{env.KeyField: key}, nil)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return model.Reference{Type: matches[0].Type, ID: matches[0].ID}, nil
}

var recordDateLayouts = []string{"2006-01-02 15:04", "2006-01-02"}

const trackerDateLayout = "2006-01-02T15:04:05.000-0700"

func reformatDate(value any, from []string, to string) (any, error) {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil, nil
	}
	for _, layout := range from {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(to), nil
		}
	}
	return nil, nil
}

func minutesToSeconds(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v) * 60, nil
	case int64:
		return v * 60, nil
	case float64:
		return int64(v * 60), nil
	}
	return nil, nil
}

func secondsToMinutes(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v) / 60, nil
	case int64:
		return v / 60, nil
	case float64:
		return int64(v) / 60, nil
	}
	return nil, nil
}

var _ Translator = (*Default)(nil)
