// Package trackerrest is the REST adapter for Jira-style issue trackers,
// implementing remote.IssueTracker over the v2 HTTP API.
package trackerrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/remote"
)

const apiPrefix = "/rest/api/2"

// Config holds the connection settings for one tracker instance.
//
// Exactly one authentication mode must be configured: a bearer Token, or
// Username plus APIKey for basic auth.
type Config struct {
	// BaseURL is the tracker root, e.g. "https://tracker.example.com".
	BaseURL string

	Token    string
	Username string
	APIKey   string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	token      string
	username   string
	apiKey     string
	httpClient *http.Client
}

var _ remote.IssueTracker = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("trackerrest: base URL is required")
	}
	hasToken := cfg.Token != ""
	hasBasic := cfg.Username != "" && cfg.APIKey != ""
	if hasToken == hasBasic {
		return nil, fmt.Errorf("trackerrest: configure exactly one of token or username+api key")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// do performs one API call, decoding the response into out when non-nil.
// A 404 maps to remote.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		req.SetBasicAuth(c.username, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return remote.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

type issuePayload struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

func decodeIssue(p issuePayload) *model.Issue {
	issue := &model.Issue{
		Key:    p.Key,
		Fields: map[string]any{},
	}
	for name, value := range p.Fields {
		switch name {
		case "project":
			issue.ProjectKey = nestedString(value, "key")
		case "issuetype":
			issue.IssueType = nestedString(value, "name")
		case "status":
			issue.Status = nestedString(value, "name")
		case "parent":
			issue.ParentKey = nestedString(value, "key")
		default:
			issue.Fields[name] = value
		}
	}
	return issue
}

func nestedString(v any, key string) string {
	m, _ := v.(map[string]any)
	s, _ := m[key].(string)
	return s
}

func (c *Client) Issue(ctx context.Context, key string) (*model.Issue, error) {
	var p issuePayload
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key), nil, &p); err != nil {
		return nil, err
	}
	return decodeIssue(p), nil
}

func (c *Client) CreateIssue(ctx context.Context, projectKey, issueType string, fields map[string]any) (*model.Issue, error) {
	payload := map[string]any{}
	for id, v := range fields {
		payload[id] = v
	}
	payload["project"] = map[string]any{"key": projectKey}
	payload["issuetype"] = map[string]any{"name": issueType}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/issue", map[string]any{"fields": payload}, &created); err != nil {
		return nil, err
	}
	return c.Issue(ctx, created.Key)
}

func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]any) error {
	return c.do(ctx, http.MethodPut, "/issue/"+url.PathEscape(key), map[string]any{"fields": fields}, nil)
}

func (c *Client) DeleteIssue(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(key), nil, nil)
}

func (c *Client) EditableFields(ctx context.Context, key string) (map[string]model.IssueFieldMeta, error) {
	var meta struct {
		Fields map[string]struct {
			Schema struct {
				Type string `json:"type"`
			} `json:"schema"`
		} `json:"fields"`
	}
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key)+"/editmeta", nil, &meta); err != nil {
		return nil, err
	}
	fields := make(map[string]model.IssueFieldMeta, len(meta.Fields))
	for id, f := range meta.Fields {
		fields[id] = model.IssueFieldMeta{List: f.Schema.Type == "array"}
	}
	return fields, nil
}

func (c *Client) Transitions(ctx context.Context, key string) ([]model.Transition, error) {
	var resp struct {
		Transitions []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			To   struct {
				Name string `json:"name"`
			} `json:"to"`
			Fields map[string]struct {
				Required bool `json:"required"`
				Schema   struct {
					Type string `json:"type"`
				} `json:"schema"`
				AllowedValues []struct {
					Name string `json:"name"`
				} `json:"allowedValues"`
			} `json:"fields"`
		} `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key)+"/transitions?expand=transitions.fields", nil, &resp); err != nil {
		return nil, err
	}

	transitions := make([]model.Transition, 0, len(resp.Transitions))
	for _, t := range resp.Transitions {
		tr := model.Transition{ID: t.ID, Name: t.Name, TargetStatus: t.To.Name}
		for id, f := range t.Fields {
			if !f.Required {
				continue
			}
			kind := "text"
			if id == "resolution" {
				kind = "resolution"
			}
			field := model.TransitionField{ID: id, Kind: kind}
			for _, v := range f.AllowedValues {
				field.AllowedValues = append(field.AllowedValues, v.Name)
			}
			tr.RequiredFields = append(tr.RequiredFields, field)
		}
		transitions = append(transitions, tr)
	}
	return transitions, nil
}

func (c *Client) Transition(ctx context.Context, key, transitionID string, fields map[string]any) error {
	body := map[string]any{
		"transition": map[string]any{"id": transitionID},
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	return c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(key)+"/transitions", body, nil)
}

type commentPayload struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author struct {
		AccountID string `json:"accountId"`
	} `json:"author"`
}

func decodeComment(issueKey string, p commentPayload) *model.Comment {
	return &model.Comment{ID: p.ID, IssueKey: issueKey, Body: p.Body, AuthorID: p.Author.AccountID}
}

func (c *Client) Comment(ctx context.Context, issueKey, commentID string) (*model.Comment, error) {
	var p commentPayload
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(issueKey)+"/comment/"+url.PathEscape(commentID), nil, &p); err != nil {
		return nil, err
	}
	return decodeComment(issueKey, p), nil
}

func (c *Client) AddComment(ctx context.Context, issueKey, body string) (*model.Comment, error) {
	var p commentPayload
	if err := c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(issueKey)+"/comment", map[string]any{"body": body}, &p); err != nil {
		return nil, err
	}
	return decodeComment(issueKey, p), nil
}

func (c *Client) UpdateComment(ctx context.Context, issueKey, commentID, body string) error {
	return c.do(ctx, http.MethodPut, "/issue/"+url.PathEscape(issueKey)+"/comment/"+url.PathEscape(commentID), map[string]any{"body": body}, nil)
}

func (c *Client) DeleteComment(ctx context.Context, issueKey, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(issueKey)+"/comment/"+url.PathEscape(commentID), nil, nil)
}

type worklogPayload struct {
	ID               string `json:"id"`
	Comment          string `json:"comment"`
	Started          string `json:"started"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	Author           struct {
		AccountID string `json:"accountId"`
	} `json:"author"`
}

func decodeWorklog(issueKey string, p worklogPayload) *model.Worklog {
	return &model.Worklog{
		ID:       p.ID,
		IssueKey: issueKey,
		Comment:  p.Comment,
		Started:  p.Started,
		Seconds:  p.TimeSpentSeconds,
		AuthorID: p.Author.AccountID,
	}
}

func (c *Client) Worklog(ctx context.Context, issueKey, worklogID string) (*model.Worklog, error) {
	var p worklogPayload
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(issueKey)+"/worklog/"+url.PathEscape(worklogID), nil, &p); err != nil {
		return nil, err
	}
	return decodeWorklog(issueKey, p), nil
}

func (c *Client) AddWorklog(ctx context.Context, issueKey string, wl model.Worklog) (*model.Worklog, error) {
	body := map[string]any{
		"comment":          wl.Comment,
		"started":          wl.Started,
		"timeSpentSeconds": wl.Seconds,
	}
	var p worklogPayload
	if err := c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(issueKey)+"/worklog", body, &p); err != nil {
		return nil, err
	}
	return decodeWorklog(issueKey, p), nil
}

func (c *Client) UpdateWorklog(ctx context.Context, issueKey string, wl model.Worklog) error {
	body := map[string]any{
		"comment":          wl.Comment,
		"started":          wl.Started,
		"timeSpentSeconds": wl.Seconds,
	}
	return c.do(ctx, http.MethodPut, "/issue/"+url.PathEscape(issueKey)+"/worklog/"+url.PathEscape(wl.ID), body, nil)
}

func (c *Client) DeleteWorklog(ctx context.Context, issueKey, worklogID string) error {
	return c.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(issueKey)+"/worklog/"+url.PathEscape(worklogID), nil, nil)
}

type userPayload struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

func decodeUser(p userPayload) *model.User {
	return &model.User{AccountID: p.AccountID, DisplayName: p.DisplayName, Email: p.EmailAddress}
}

func (c *Client) FindUserByEmail(ctx context.Context, email, projectKey string) (*model.User, error) {
	path := "/user/assignable/search?project=" + url.QueryEscape(projectKey) + "&query=" + url.QueryEscape(email)
	var users []userPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.EmailAddress, email) {
			return decodeUser(u), nil
		}
	}
	return nil, remote.ErrNotFound
}

func (c *Client) Myself(ctx context.Context) (*model.User, error) {
	var p userPayload
	if err := c.do(ctx, http.MethodGet, "/myself", nil, &p); err != nil {
		return nil, err
	}
	return decodeUser(p), nil
}

func (c *Client) Watchers(ctx context.Context, key string) ([]model.User, error) {
	var resp struct {
		Watchers []userPayload `json:"watchers"`
	}
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(key)+"/watchers", nil, &resp); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(resp.Watchers))
	for _, w := range resp.Watchers {
		users = append(users, *decodeUser(w))
	}
	return users, nil
}

func (c *Client) AddWatcher(ctx context.Context, key, accountID string) error {
	return c.do(ctx, http.MethodPost, "/issue/"+url.PathEscape(key)+"/watchers", accountID, nil)
}

func (c *Client) RemoveWatcher(ctx context.Context, key, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/issue/"+url.PathEscape(key)+"/watchers?accountId="+url.QueryEscape(accountID), nil, nil)
}

func (c *Client) FieldIDByName(ctx context.Context, name string) (string, error) {
	var fields []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/field", nil, &fields); err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.Name == name {
			return f.ID, nil
		}
	}
	return "", remote.ErrNotFound
}

func (c *Client) FieldsOnScreen(ctx context.Context, projectKey, issueType string, fieldIDs []string) (bool, error) {
	path := "/issue/createmeta?projectKeys=" + url.QueryEscape(projectKey) +
		"&issuetypeNames=" + url.QueryEscape(issueType) +
		"&expand=projects.issuetypes.fields"
	var meta struct {
		Projects []struct {
			IssueTypes []struct {
				Fields map[string]json.RawMessage `json:"fields"`
			} `json:"issuetypes"`
		} `json:"projects"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return false, err
	}
	if len(meta.Projects) == 0 || len(meta.Projects[0].IssueTypes) == 0 {
		return false, nil
	}
	available := meta.Projects[0].IssueTypes[0].Fields
	for _, id := range fieldIDs {
		if _, ok := available[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Client) IssueTypeExists(ctx context.Context, name, projectKey string) (bool, error) {
	var project struct {
		IssueTypes []struct {
			Name string `json:"name"`
		} `json:"issueTypes"`
	}
	if err := c.do(ctx, http.MethodGet, "/project/"+url.PathEscape(projectKey), nil, &project); err != nil {
		// A missing project means the type does not exist there either.
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, t := range project.IssueTypes {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) ProjectExists(ctx context.Context, key string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/project/"+url.PathEscape(key), nil, nil)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) SetParent(ctx context.Context, key, parentKey string) error {
	var parent any
	if parentKey != "" {
		parent = map[string]any{"key": parentKey}
	}
	return c.UpdateIssue(ctx, key, map[string]any{"parent": parent})
}

func (c *Client) Children(ctx context.Context, key string) ([]model.Issue, error) {
	path := "/search?jql=" + url.QueryEscape(`parent = "`+key+`"`)
	var resp struct {
		Issues []issuePayload `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	issues := make([]model.Issue, 0, len(resp.Issues))
	for _, p := range resp.Issues {
		issues = append(issues, *decodeIssue(p))
	}
	return issues, nil
}
