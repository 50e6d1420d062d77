// Package categories holds the transcript category definitions used to tag
// chunks and to drive report extraction, one set per bank type.
package categories

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Transcript sections a category is extracted from.
const (
	SectionMD  = "MD"
	SectionQA  = "QA"
	SectionAll = "ALL"
)

// DefaultBankType is used when a bank's type has no dedicated set.
const DefaultBankType = "Canadian_Banks"

//go:embed data/*.yaml
var dataFS embed.FS

// Category is one extraction topic.
type Category struct {
	Index         int    `yaml:"index" json:"index"`
	Name          string `yaml:"name" json:"name"`
	Description   string `yaml:"description" json:"description"`
	ReportSection string `yaml:"report_section" json:"report_section"`
	Section       string `yaml:"transcripts_section" json:"transcripts_section"`
}

// Set is the category list for a bank type.
type Set struct {
	BankType   string     `yaml:"bank_type"`
	Categories []Category `yaml:"categories"`
}

// ByIndex returns the category with index i.
func (s *Set) ByIndex(i int) (Category, bool) {
	for _, c := range s.Categories {
		if c.Index == i {
			return c, true
		}
	}
	return Category{}, false
}

// ByName returns the category named name, ignoring case.
func (s *Set) ByName(name string) (Category, bool) {
	for _, c := range s.Categories {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return Category{}, false
}

// Names returns the category names in index order.
func (s *Set) Names() []string {
	out := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		out[i] = c.Name
	}
	return out
}

// Format renders one "index. name: description" line per category.
func (s *Set) Format() string {
	var sb strings.Builder
	for _, c := range s.Categories {
		fmt.Fprintf(&sb, "%d. %s: %s\n", c.Index, c.Name, strings.TrimSpace(c.Description))
	}
	return strings.TrimRight(sb.String(), "\n")
}

var (
	loadOnce sync.Once
	loaded   map[string]*Set
	loadErr  error
)

// ForBankType returns the set for bankType, falling back to DefaultBankType.
func ForBankType(bankType string) (*Set, error) {
	loadOnce.Do(func() { loaded, loadErr = LoadFS(dataFS, "data") })
	if loadErr != nil {
		return nil, loadErr
	}
	if s, ok := loaded[bankType]; ok {
		return s, nil
	}
	if s, ok := loaded[DefaultBankType]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("ForBankType: no categories for %q", bankType)
}

// LoadFS parses every *.yaml file in dir of fsys, keyed by bank type.
func LoadFS(fsys fs.FS, dir string) (map[string]*Set, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("LoadFS: read dir: %w", err)
	}
	out := map[string]*Set{}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("LoadFS: read %s: %w", e.Name(), err)
		}
		var s Set
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("LoadFS: parse %s: %w", e.Name(), err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("LoadFS: %s: %w", e.Name(), err)
		}
		if _, dup := out[s.BankType]; dup {
			return nil, fmt.Errorf("LoadFS: duplicate bank type %s", s.BankType)
		}
		out[s.BankType] = &s
	}
	return out, nil
}

func (s *Set) validate() error {
	if s.BankType == "" {
		return fmt.Errorf("missing bank_type")
	}
	if len(s.Categories) == 0 {
		return fmt.Errorf("no categories")
	}
	seen := map[int]bool{}
	for _, c := range s.Categories {
		if c.Name == "" {
			return fmt.Errorf("category %d has no name", c.Index)
		}
		if seen[c.Index] {
			return fmt.Errorf("duplicate category index %d", c.Index)
		}
		seen[c.Index] = true
		switch c.Section {
		case SectionMD, SectionQA, SectionAll:
		default:
			return fmt.Errorf("category %q: invalid transcripts_section %q", c.Name, c.Section)
		}
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Index < s.Categories[j].Index })
	return nil
}
