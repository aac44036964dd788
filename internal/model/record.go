package model

// Reference is one element of a list-valued record field: an ordered link to
// another record.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Record is a record-store entity. Fields hold scalar values or
// []Reference for link fields; the set of populated fields depends on what
// the fetching call asked for.
type Record struct {
	Type   string
	ID     string
	Fields map[string]any
}

// String returns the scalar string value of a field, or "" when the field is
// absent or not a string.
func (r *Record) String(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// Bool returns the boolean value of a field, treating absence as false.
func (r *Record) Bool(field string) bool {
	b, _ := r.Fields[field].(bool)
	return b
}

// References returns the link list stored in a field. A single Reference
// value is returned as a one-element list.
func (r *Record) References(field string) []Reference {
	switch v := r.Fields[field].(type) {
	case []Reference:
		return v
	case Reference:
		return []Reference{v}
	case []any:
		refs := make([]Reference, 0, len(v))
		for _, e := range v {
			if ref, ok := e.(Reference); ok {
				refs = append(refs, ref)
			}
		}
		return refs
	}
	return nil
}

// FirstReference returns the first linked record of a field, or nil.
func (r *Record) FirstReference(field string) *Reference {
	refs := r.References(field)
	if len(refs) == 0 {
		return nil
	}
	return &refs[0]
}

// FieldKind describes a record-store field's schema as far as translation
// cares: whether it holds links, to which record types, and whether it is a
// list.
type FieldKind string

const (
	FieldKindScalar   FieldKind = "scalar"
	FieldKindCheckbox FieldKind = "checkbox"
	FieldKindDate     FieldKind = "date"
	FieldKindDuration FieldKind = "duration"
	FieldKindLink     FieldKind = "link"
	FieldKindUser     FieldKind = "user"
)

// FieldSchema is the record store's declared shape for one field.
type FieldSchema struct {
	Name        string
	Kind        FieldKind
	Multi       bool
	TargetTypes []string
}
