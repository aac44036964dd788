// Package mapping compiles the declarative entity mapping configuration into
// typed lookup tables. Validation happens once, at construction; a Table is
// immutable afterwards and safe for concurrent readers.
package mapping

import (
	"errors"
	"fmt"
	"sort"

	"tracksync.app/sync-server/internal/model"
)

var ErrInvalidConfig = errors.New("invalid sync configuration")

// Entity is one compiled EntityMapping with its per-field indexes.
type Entity struct {
	model.EntityMapping

	bySource map[string]model.FieldRule
	byTarget map[string]model.FieldRule
	// reverseStatus fixes the first-match-wins name -> code lookup.
	reverseStatus map[string]string
}

// Table holds every compiled entity keyed both ways.
type Table struct {
	byRecordType map[string]*Entity
	byIssueType  map[string]*Entity
	subResources []*Entity
}

// New validates and compiles the configured mappings. Any violation is a
// fatal configuration error and must prevent engine startup.
func New(mappings []model.EntityMapping) (*Table, error) {
	t := &Table{
		byRecordType: make(map[string]*Entity, len(mappings)),
		byIssueType:  make(map[string]*Entity, len(mappings)),
	}

	for _, m := range mappings {
		if err := validate(m); err != nil {
			return nil, err
		}
		if _, dup := t.byRecordType[m.RecordType]; dup {
			return nil, fmt.Errorf("%w: duplicate mapping for record type %q", ErrInvalidConfig, m.RecordType)
		}

		e := &Entity{
			EntityMapping: m,
			bySource:      make(map[string]model.FieldRule, len(m.FieldMapping)),
			byTarget:      make(map[string]model.FieldRule, len(m.FieldMapping)),
		}
		for _, rule := range m.FieldMapping {
			if _, dup := e.bySource[rule.SourceField]; dup {
				return nil, fmt.Errorf("%w: record type %q maps source field %q twice", ErrInvalidConfig, m.RecordType, rule.SourceField)
			}
			e.bySource[rule.SourceField] = rule
			e.byTarget[rule.TargetField] = rule
		}
		if m.StatusMapping != nil {
			e.reverseStatus = compileReverseStatus(m.StatusMapping)
		}

		t.byRecordType[m.RecordType] = e
		if m.IssueType != "" {
			t.byIssueType[m.IssueType] = e
		}
		if e.IsSubResource() {
			t.subResources = append(t.subResources, e)
		}
	}

	return t, nil
}

func validate(m model.EntityMapping) error {
	if m.RecordType == "" {
		return fmt.Errorf("%w: mapping with empty record type", ErrInvalidConfig)
	}
	if m.RecordType == "Project" {
		return fmt.Errorf("%w: record type Project cannot be a sync target", ErrInvalidConfig)
	}
	if m.Direction != "" && !m.Direction.Valid() {
		return fmt.Errorf("%w: record type %q has invalid direction %q", ErrInvalidConfig, m.RecordType, m.Direction)
	}
	if m.DeletionDirection != "" && !m.DeletionDirection.Valid() {
		return fmt.Errorf("%w: record type %q has invalid deletion direction %q", ErrInvalidConfig, m.RecordType, m.DeletionDirection)
	}
	if m.IsSubResource() {
		if m.SubResource != model.SubResourceComment && m.SubResource != model.SubResourceWorklog {
			return fmt.Errorf("%w: record type %q has unknown sub-resource kind %q", ErrInvalidConfig, m.RecordType, m.SubResource)
		}
		if m.ParentField == "" {
			return fmt.Errorf("%w: sub-resource type %q needs a parent field", ErrInvalidConfig, m.RecordType)
		}
		if m.IssueType != "" {
			return fmt.Errorf("%w: sub-resource type %q cannot declare an issue type", ErrInvalidConfig, m.RecordType)
		}
	} else if m.IssueType == "" {
		return fmt.Errorf("%w: record type %q needs an issue type", ErrInvalidConfig, m.RecordType)
	}
	for _, rule := range m.FieldMapping {
		if rule.SourceField == "" || rule.TargetField == "" {
			return fmt.Errorf("%w: record type %q has a field rule with empty source or target", ErrInvalidConfig, m.RecordType)
		}
		if rule.Direction != "" && !rule.Direction.Valid() {
			return fmt.Errorf("%w: record type %q field %q has invalid direction %q", ErrInvalidConfig, m.RecordType, rule.SourceField, rule.Direction)
		}
	}
	if s := m.StatusMapping; s != nil {
		if s.SourceField == "" {
			return fmt.Errorf("%w: record type %q status mapping needs a source field", ErrInvalidConfig, m.RecordType)
		}
		if len(s.Mapping) == 0 {
			return fmt.Errorf("%w: record type %q status mapping is empty", ErrInvalidConfig, m.RecordType)
		}
		for _, code := range s.Order {
			if _, ok := s.Mapping[code]; !ok {
				return fmt.Errorf("%w: record type %q status order lists unmapped code %q", ErrInvalidConfig, m.RecordType, code)
			}
		}
	}
	return nil
}

func compileReverseStatus(s *model.StatusRule) map[string]string {
	codes := s.Order
	if len(codes) == 0 {
		codes = make([]string, 0, len(s.Mapping))
		for code := range s.Mapping {
			codes = append(codes, code)
		}
		sort.Strings(codes)
	}
	reverse := make(map[string]string, len(codes))
	for _, code := range codes {
		name := s.Mapping[code]
		if _, taken := reverse[name]; !taken {
			reverse[name] = code
		}
	}
	return reverse
}

// ByRecordType looks up the compiled entity for a record type.
func (t *Table) ByRecordType(recordType string) (*Entity, bool) {
	e, ok := t.byRecordType[recordType]
	return e, ok
}

// ByIssueType looks up the compiled entity for a tracker issue type.
func (t *Table) ByIssueType(issueType string) (*Entity, bool) {
	e, ok := t.byIssueType[issueType]
	return e, ok
}

// SubResourceByKind returns the entity synced as the given sub-resource kind,
// if one is configured.
func (t *Table) SubResourceByKind(kind model.SubResourceKind) (*Entity, bool) {
	for _, e := range t.subResources {
		if e.SubResource == kind {
			return e, true
		}
	}
	return nil, false
}

// SubResources lists every sub-resource entity, for the full-sync cascade.
func (t *Table) SubResources() []*Entity {
	return t.subResources
}

// Rule returns the field rule declared for a record-store field.
func (e *Entity) Rule(sourceField string) (model.FieldRule, bool) {
	r, ok := e.bySource[sourceField]
	return r, ok
}

// RuleForTarget returns the field rule declared for a tracker field.
func (e *Entity) RuleForTarget(targetField string) (model.FieldRule, bool) {
	r, ok := e.byTarget[targetField]
	return r, ok
}

// SupportsField reports whether a record-store field participates in sync for
// this entity, either through the field mapping or as the status source.
func (e *Entity) SupportsField(field string) bool {
	if _, ok := e.bySource[field]; ok {
		return true
	}
	return e.StatusMapping != nil && e.StatusMapping.SourceField == field
}

// StatusName resolves a record-store status code to the tracker status name.
func (e *Entity) StatusName(code string) (string, bool) {
	if e.StatusMapping == nil {
		return "", false
	}
	name, ok := e.StatusMapping.Mapping[code]
	return name, ok
}

// StatusCode resolves a tracker status name back to a record-store code.
// Many-to-one mappings collapse to the first declared code.
func (e *Entity) StatusCode(name string) (string, bool) {
	code, ok := e.reverseStatus[name]
	return code, ok
}
