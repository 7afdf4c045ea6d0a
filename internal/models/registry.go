package models

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

//go:embed registry.json
var embeddedRegistry []byte

// Model roles map to pipeline detectors.
const (
	RoleGeneral = "general"
	RoleDomain  = "domain"
)

const checksumFile = ".checksum"

// Registry lists the downloadable token-classification models.
type Registry struct {
	Version string      `json:"version"`
	Models  []ModelSpec `json:"models"`
}

// ModelSpec describes one model archive. Labels are the raw entity types
// the model tags; Remap renames them before they reach callers.
type ModelSpec struct {
	Name        string            `json:"name"`
	Role        string            `json:"role"`
	Version     string            `json:"version"`
	URL         string            `json:"url"`
	Checksum    string            `json:"checksum"`
	SizeBytes   int64             `json:"size_bytes"`
	Labels      []string          `json:"labels"`
	Remap       map[string]string `json:"remap,omitempty"`
	Description string            `json:"description"`
	License     string            `json:"license"`
	Recommended bool              `json:"recommended"`
}

// EmittedLabels returns Labels after Remap, in registry order.
func (m ModelSpec) EmittedLabels() []string {
	out := make([]string, 0, len(m.Labels))
	for _, l := range m.Labels {
		if mapped, ok := m.Remap[l]; ok {
			l = mapped
		}
		out = append(out, l)
	}
	return out
}

// Published reports whether the model has a release to download: a URL
// and a sha256 checksum. The embedded registry ships without releases;
// point models.registry at a file that lists them.
func (m ModelSpec) Published() bool {
	return m.URL != "" && strings.HasPrefix(m.Checksum, checksumPrefix) && len(m.Checksum) > len(checksumPrefix)
}

// LoadEmbeddedRegistry parses the registry compiled into the binary.
func LoadEmbeddedRegistry() (Registry, error) {
	return parseRegistry(embeddedRegistry)
}

// LoadRegistry reads a registry file, falling back to the embedded one
// when path is empty.
func LoadRegistry(path string) (Registry, error) {
	if strings.TrimSpace(path) == "" {
		return LoadEmbeddedRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, errors.Wrap(err, "read model registry")
	}
	return parseRegistry(data)
}

func parseRegistry(data []byte) (Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return Registry{}, errors.Wrap(err, "parse model registry")
	}
	seen := make(map[string]bool, len(reg.Models))
	for _, m := range reg.Models {
		switch {
		case m.Name == "":
			return Registry{}, errors.New("parse model registry: model without name")
		case seen[m.Name]:
			return Registry{}, errors.Errorf("parse model registry: duplicate model %q", m.Name)
		case m.Role != RoleGeneral && m.Role != RoleDomain:
			return Registry{}, errors.Errorf("parse model registry: model %q has unknown role %q", m.Name, m.Role)
		}
		seen[m.Name] = true
	}
	sort.SliceStable(reg.Models, func(i, j int) bool { return reg.Models[i].Name < reg.Models[j].Name })
	return reg, nil
}

func (r Registry) Find(name string) (ModelSpec, bool) {
	for _, m := range r.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// ForRole returns the recommended model for role, or the first one listed.
func (r Registry) ForRole(role string) (ModelSpec, bool) {
	var found *ModelSpec
	for i := range r.Models {
		m := &r.Models[i]
		if m.Role != role {
			continue
		}
		if m.Recommended {
			return *m, true
		}
		if found == nil {
			found = m
		}
	}
	if found == nil {
		return ModelSpec{}, false
	}
	return *found, true
}

// DefaultModelsRoot is ~/.piiguard/models.
func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".piiguard", "models"), nil
}

func ModelInstallPath(root string, name string) string {
	return filepath.Join(root, name)
}

func IsInstalled(root string, model ModelSpec) bool {
	return checkModelFiles(ModelInstallPath(root, model.Name)) == nil
}

// InstalledChecksum returns the archive checksum recorded at install time.
func InstalledChecksum(root string, model ModelSpec) (string, error) {
	data, err := os.ReadFile(filepath.Join(ModelInstallPath(root, model.Name), checksumFile))
	if err != nil {
		return "", errors.Wrapf(err, "read checksum of %s", model.Name)
	}
	return strings.TrimSpace(string(data)), nil
}

// Verify checks that model is installed with every required file and that
// it was installed from the archive the registry currently lists.
func Verify(root string, model ModelSpec) error {
	dir := ModelInstallPath(root, model.Name)
	if err := checkModelFiles(dir); err != nil {
		return errors.Wrapf(err, "model %s", model.Name)
	}
	sum, err := InstalledChecksum(root, model)
	if err != nil {
		return err
	}
	if sum != model.Checksum {
		return errors.Errorf("model %s: installed checksum %s does not match registry %s", model.Name, sum, model.Checksum)
	}
	return nil
}
