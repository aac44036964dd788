package model

// Issue is the tracker-side resource a top-level record maps onto. Fields is
// keyed by tracker field ID and includes the cross-reference custom fields.
type Issue struct {
	Key        string
	ProjectKey string
	IssueType  string
	Status     string
	ParentKey  string
	Fields     map[string]any
}

// StringField returns the string value of a tracker field by ID.
func (i *Issue) StringField(id string) string {
	s, _ := i.Fields[id].(string)
	return s
}

// BoolField returns the checkbox value of a tracker field by ID.
func (i *Issue) BoolField(id string) bool {
	b, _ := i.Fields[id].(bool)
	return b
}

// IssueFieldMeta describes an editable tracker field as far as the field
// translation loop cares.
type IssueFieldMeta struct {
	// List marks fields accepting multiple values; non-list fields take the
	// first non-empty converted element.
	List bool
}

// Comment is a tracker comment, addressable only through its parent issue.
type Comment struct {
	ID       string
	IssueKey string
	Body     string
	AuthorID string
}

// Worklog is a tracker worklog entry, addressable only through its parent
// issue.
type Worklog struct {
	ID       string
	IssueKey string
	Comment  string
	Started  string
	Seconds  int64
	AuthorID string
}

// User identifies a tracker account. Loop prevention compares AccountID, not
// DisplayName, since display names are not unique.
type User struct {
	AccountID   string
	DisplayName string
	Email       string
}

// Transition is one available status change on an issue.
type Transition struct {
	ID             string
	Name           string
	TargetStatus   string
	RequiredFields []TransitionField
}

// TransitionField is a field a transition screen requires before executing.
type TransitionField struct {
	ID            string
	Kind          string // "text" or "resolution"
	AllowedValues []string
}
