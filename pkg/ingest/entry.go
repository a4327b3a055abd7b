package ingest

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xhad/rolerag/pkg/errs"
)

// Entry is one unit of ingestion input. Exactly one of Content or URL is set.
type Entry struct {
	Content      string                 `yaml:"content,omitempty"`
	URL          string                 `yaml:"url,omitempty"`
	AllowedRoles []string               `yaml:"allowed_roles"`
	Metadata     map[string]interface{} `yaml:"metadata,omitempty"`
}

// Manifest is the on-disk list of entries.
type Manifest struct {
	Documents []Entry `yaml:"documents"`
}

// LoadManifest reads a YAML manifest. Unknown keys are rejected so a
// misspelled allowed_roles can never produce an unprotected document.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidDocument, "reading manifest", errs.Field("path", path))
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidDocument, "parsing manifest", errs.Field("path", path))
	}
	return m.Documents, nil
}

// SeedEntries returns the sample corpus used for demos and tests.
func SeedEntries() []Entry {
	return []Entry{
		{
			Content:      "The production deployment key is hidden in the ci-cd-secrets vault.",
			AllowedRoles: []string{"engineer"},
			Metadata:     map[string]interface{}{"source": "engineering_guide.txt"},
		},
		{
			Content:      "To reset the wifi password, visit 192.168.1.1/admin.",
			AllowedRoles: []string{"engineer", "intern"},
			Metadata:     map[string]interface{}{"source": "it_guide.txt"},
		},
		{
			Content:      "Employees are entitled to 4 weeks of paid vacation per year.",
			AllowedRoles: []string{"hr", "engineer", "intern"},
			Metadata:     map[string]interface{}{"source": "employee_handbook.txt"},
		},
		{
			Content:      "Executive bonuses are calculated as 5% of net profit.",
			AllowedRoles: []string{"hr"},
			Metadata:     map[string]interface{}{"source": "executive_comp.txt"},
		},
		{
			Content:      "Our public roadmap includes Q4 launch of the new API.",
			AllowedRoles: []string{"public", "intern", "engineer", "hr"},
			Metadata:     map[string]interface{}{"source": "public_web.txt"},
		},
	}
}
