package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/journey/internal/dto"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var _ ports.DefinitionStore = (*Definitions)(nil)

// Definitions implements ports.DefinitionStore over a directory of playbook
// files (*.yaml, *.yml, *.json). The directory is parsed once, at construction.
type Definitions struct {
	*memory.Definitions
	files map[string]string // playbook id -> source file
}

// DefinitionsOption configures LoadDefinitions.
type DefinitionsOption func(*definitionsConfig)

type definitionsConfig struct {
	fs afero.Fs
}

// WithDefinitionsFs sets the filesystem the directory is read from.
func WithDefinitionsFs(fs afero.Fs) DefinitionsOption {
	return func(c *definitionsConfig) {
		c.fs = fs
	}
}

// LoadDefinitions parses every playbook file under dir.
// A playbook without an id takes its file name (minus extension).
func LoadDefinitions(dir string, opts ...DefinitionsOption) (*Definitions, error) {
	cfg := definitionsConfig{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var paths []string
	err := afero.Walk(cfg.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan playbook directory: %w", err)
	}
	sort.Strings(paths)

	files := make(map[string]string, len(paths))
	defs := make([]domain.Definition, 0, len(paths))
	for _, path := range paths {
		def, err := readDefinition(cfg.fs, path)
		if err != nil {
			return nil, err
		}
		if existing, ok := files[def.Playbook.ID]; ok {
			return nil, fmt.Errorf("collision detected: playbook '%s' is defined in both '%s' and '%s'", def.Playbook.ID, existing, path)
		}
		files[def.Playbook.ID] = path
		defs = append(defs, def)
	}

	catalog, err := memory.NewDefinitions(defs...)
	if err != nil {
		return nil, err
	}
	return &Definitions{Definitions: catalog, files: files}, nil
}

// Source returns the file a playbook was read from.
func (d *Definitions) Source(playbookID string) (string, bool) {
	path, ok := d.files[playbookID]
	return path, ok
}

// ReadDefinition parses a single playbook file from the OS filesystem.
func ReadDefinition(path string) (domain.Definition, error) {
	return readDefinition(afero.NewOsFs(), path)
}

func readDefinition(fs afero.Fs, path string) (domain.Definition, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("failed to read playbook file: %w", err)
	}

	raw := map[string]any{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = domain.DecodeJSON(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return domain.Definition{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	meta, err := dto.Decode(raw)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	def, err := meta.ToDefinition(base)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// DefinitionsFromPath accepts either a playbook directory or a single file.
func DefinitionsFromPath(path string) (ports.DefinitionStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid playbook path: %w", err)
	}
	if info.IsDir() {
		return LoadDefinitions(path)
	}
	def, err := ReadDefinition(path)
	if err != nil {
		return nil, err
	}
	return memory.NewDefinitions(def)
}
