package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ProjectMeta is the small project.meta file stored next to index.db. It
// names the project root and the compilation database the index was built
// from.
type ProjectMeta struct {
	Root                string `toml:"root"`
	CompilationDatabase string `toml:"compilation_database"`
}

// LoadMeta reads a project.meta file.
func LoadMeta(path string) (*ProjectMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta ProjectMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// SaveMeta writes a project.meta file.
func SaveMeta(path string, meta *ProjectMeta) error {
	data, err := toml.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
