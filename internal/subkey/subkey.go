// Package subkey implements the composite addressing scheme for tracker
// sub-resources. Comments and worklogs have no independent identity on the
// tracker side, so the cross-reference written back onto their record is
// "<parentIssueKey>/<subResourceID>".
package subkey

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedKey = errors.New("malformed composite key")

// Key addresses one sub-resource under its parent issue.
type Key struct {
	IssueKey string
	SubID    string
}

// New builds a composite key from its two parts.
func New(issueKey, subID string) Key {
	return Key{IssueKey: issueKey, SubID: subID}
}

// String formats the key in its stored "<parentKey>/<subId>" form.
func (k Key) String() string {
	return k.IssueKey + "/" + k.SubID
}

// Parse splits a stored composite key. Exactly two non-empty segments are
// required; anything else is a malformed key.
func Parse(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	return Key{IssueKey: parts[0], SubID: parts[1]}, nil
}
