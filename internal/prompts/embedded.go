package prompts

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

type promptFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

// EmbeddedStore serves the prompt defaults compiled into the binary.
type EmbeddedStore struct {
	prompts map[string]*Prompt
}

// NewEmbeddedStore parses the built-in defaults.
func NewEmbeddedStore() (*EmbeddedStore, error) {
	return LoadFS(defaultFS, "defaults")
}

// LoadFS parses every *.yaml file in dir of fsys.
func LoadFS(fsys fs.FS, dir string) (*EmbeddedStore, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("LoadFS: read dir: %w", err)
	}

	store := &EmbeddedStore{prompts: map[string]*Prompt{}}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("LoadFS: read %s: %w", e.Name(), err)
		}
		var pf promptFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("LoadFS: parse %s: %w", e.Name(), err)
		}
		for i := range pf.Prompts {
			p := pf.Prompts[i]
			if p.Layer == "" || p.Name == "" {
				return nil, fmt.Errorf("LoadFS: %s: prompt %d missing layer or name", e.Name(), i)
			}
			key := p.Layer + "/" + p.Name
			if _, dup := store.prompts[key]; dup {
				return nil, fmt.Errorf("LoadFS: duplicate prompt %s", key)
			}
			store.prompts[key] = &p
		}
	}
	return store, nil
}

// Get implements Store.
func (s *EmbeddedStore) Get(ctx context.Context, layer, name string) (*Prompt, error) {
	p, ok := s.prompts[layer+"/"+name]
	if !ok {
		return nil, fmt.Errorf("EmbeddedStore.Get %s/%s: %w", layer, name, ErrNotFound)
	}
	c := *p
	return &c, nil
}

// Len returns the number of loaded prompts.
func (s *EmbeddedStore) Len() int { return len(s.prompts) }
