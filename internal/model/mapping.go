package model

// SyncDirection restricts which way changes propagate for an entity or a
// single field.
type SyncDirection string

const (
	SyncBothWays      SyncDirection = "both"
	SyncRecordToIssue SyncDirection = "record-to-issue"
	SyncIssueToRecord SyncDirection = "issue-to-record"
)

// AllowsRecordToIssue reports whether the direction permits propagating a
// record-store change to the tracker.
func (d SyncDirection) AllowsRecordToIssue() bool {
	return d == SyncBothWays || d == SyncRecordToIssue
}

// AllowsIssueToRecord reports whether the direction permits propagating a
// tracker change back to the record store.
func (d SyncDirection) AllowsIssueToRecord() bool {
	return d == SyncBothWays || d == SyncIssueToRecord
}

func (d SyncDirection) Valid() bool {
	switch d {
	case SyncBothWays, SyncRecordToIssue, SyncIssueToRecord:
		return true
	}
	return false
}

// SubResourceKind classifies record types that cannot carry their own
// sync-enable checkbox because they only exist under a parent record.
type SubResourceKind string

const (
	SubResourceNone    SubResourceKind = ""
	SubResourceComment SubResourceKind = "comment"
	SubResourceWorklog SubResourceKind = "worklog"
)

// ChildrenTarget is the sentinel target field denoting a reverse-hierarchy
// (children list) binding rather than a literal tracker field.
const ChildrenTarget = "{{CHILDREN}}"

// FieldRule declares a single field-to-field correspondence. An empty
// Direction inherits the owning EntityMapping's direction.
type FieldRule struct {
	SourceField string        `yaml:"source_field" json:"source_field"`
	TargetField string        `yaml:"target_field" json:"target_field"`
	Direction   SyncDirection `yaml:"direction,omitempty" json:"direction,omitempty"`
}

// StatusRule maps record-store status codes onto tracker status names.
// Many-to-one is allowed; reverse lookup returns the first declared code
// mapping to a name.
type StatusRule struct {
	SourceField string            `yaml:"source_field" json:"source_field"`
	Mapping     map[string]string `yaml:"mapping" json:"mapping"`
	// Order fixes the first-match-wins reverse lookup; when empty the
	// reverse lookup order over Mapping is unspecified.
	Order     []string      `yaml:"order,omitempty" json:"order,omitempty"`
	Direction SyncDirection `yaml:"direction,omitempty" json:"direction,omitempty"`
}

// EntityMapping declares how one synchronized record type translates to the
// tracker side. Sub-resource types (comments, worklogs) have no IssueType and
// carry the link field naming their parent record instead.
type EntityMapping struct {
	RecordType        string          `yaml:"record_type" json:"record_type"`
	IssueType         string          `yaml:"issue_type,omitempty" json:"issue_type,omitempty"`
	SubResource       SubResourceKind `yaml:"sub_resource,omitempty" json:"sub_resource,omitempty"`
	ParentField       string          `yaml:"parent_field,omitempty" json:"parent_field,omitempty"`
	FieldMapping      []FieldRule     `yaml:"field_mapping" json:"field_mapping"`
	StatusMapping     *StatusRule     `yaml:"status_mapping,omitempty" json:"status_mapping,omitempty"`
	Direction         SyncDirection   `yaml:"direction,omitempty" json:"direction,omitempty"`
	DeletionDirection SyncDirection   `yaml:"deletion_direction,omitempty" json:"deletion_direction,omitempty"`
}

// IsSubResource reports whether the type is synchronized as a dependent
// sub-resource rather than a top-level issue.
func (m *EntityMapping) IsSubResource() bool {
	return m.SubResource != SubResourceNone
}

// EffectiveDirection resolves a field rule's direction against the entity
// default.
func (m *EntityMapping) EffectiveDirection(rule FieldRule) SyncDirection {
	if rule.Direction != "" {
		return rule.Direction
	}
	if m.Direction != "" {
		return m.Direction
	}
	return SyncBothWays
}

// DeletionAllowed reports whether deletions may propagate in the given
// direction. Deletion sync is disabled unless explicitly configured.
func (m *EntityMapping) DeletionAllowed(recordToIssue bool) bool {
	if m.DeletionDirection == "" {
		return false
	}
	if recordToIssue {
		return m.DeletionDirection.AllowsRecordToIssue()
	}
	return m.DeletionDirection.AllowsIssueToRecord()
}
