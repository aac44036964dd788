// Package settings loads the sync profile declarations from the YAML
// settings file. Validation of the mapping semantics happens later, when the
// bridge compiles each profile.
package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/sync"
)

type File struct {
	Profiles []ProfileSpec `yaml:"profiles"`
}

// ProfileSpec mirrors sync.Profile with YAML names. Empty field names fall
// back to the profile defaults.
type ProfileSpec struct {
	Name     string                `yaml:"name"`
	Mappings []model.EntityMapping `yaml:"mappings"`

	KeyField          string `yaml:"key_field,omitempty"`
	URLField          string `yaml:"url_field,omitempty"`
	SyncFlagField     string `yaml:"sync_flag_field,omitempty"`
	DeletionField     string `yaml:"deletion_field,omitempty"`
	ProjectField      string `yaml:"project_field,omitempty"`
	ProjectKeyField   string `yaml:"project_key_field,omitempty"`
	ProjectRecordType string `yaml:"project_record_type,omitempty"`
	AuthorField       string `yaml:"author_field,omitempty"`
	EmailField        string `yaml:"email_field,omitempty"`

	RemoteTypeName string `yaml:"remote_type_name,omitempty"`
	RemoteIDName   string `yaml:"remote_id_name,omitempty"`
	RemoteURLName  string `yaml:"remote_url_name,omitempty"`
	SyncBackName   string `yaml:"sync_back_name,omitempty"`

	TrackerBaseURL  string `yaml:"tracker_base_url,omitempty"`
	CommentTemplate string `yaml:"comment_template,omitempty"`
}

func (s ProfileSpec) Profile() sync.Profile {
	return sync.Profile{
		Name:              s.Name,
		Mappings:          s.Mappings,
		KeyField:          s.KeyField,
		URLField:          s.URLField,
		SyncFlagField:     s.SyncFlagField,
		DeletionField:     s.DeletionField,
		ProjectField:      s.ProjectField,
		ProjectKeyField:   s.ProjectKeyField,
		ProjectRecordType: s.ProjectRecordType,
		AuthorField:       s.AuthorField,
		EmailField:        s.EmailField,
		RemoteTypeName:    s.RemoteTypeName,
		RemoteIDName:      s.RemoteIDName,
		RemoteURLName:     s.RemoteURLName,
		SyncBackName:      s.SyncBackName,
		TrackerBaseURL:    s.TrackerBaseURL,
		CommentTemplate:   s.CommentTemplate,
	}
}

// Load reads and parses the settings file.
func Load(path string) ([]sync.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("settings file %s declares no profiles", path)
	}

	profiles := make([]sync.Profile, 0, len(file.Profiles))
	for i, spec := range file.Profiles {
		if spec.Name == "" {
			return nil, fmt.Errorf("settings file %s: profile %d has no name", path, i)
		}
		profiles = append(profiles, spec.Profile())
	}
	return profiles, nil
}
