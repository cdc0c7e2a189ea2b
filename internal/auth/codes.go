package auth

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is the fixed catalog of valid access codes. It is configuration,
// not state: nothing mutates it after construction.
type Registry struct {
	codes map[string]struct{}
}

// NormalizeCode trims and uppercases a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NewRegistry(codes ...string) *Registry {
	r := &Registry{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		if n := NormalizeCode(c); n != "" {
			r.codes[n] = struct{}{}
		}
	}
	return r
}

type catalogFile struct {
	Codes []string `yaml:"codes"`
}

// LoadRegistryFile reads a YAML catalog of the form `codes: [A, B]` and
// merges it with extra codes.
func LoadRegistryFile(path string, extra ...string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewRegistry(append(cf.Codes, extra...)...), nil
}

// Contains reports whether code (in any case) is in the catalog.
func (r *Registry) Contains(code string) bool {
	_, ok := r.codes[NormalizeCode(code)]
	return ok
}

func (r *Registry) Len() int { return len(r.codes) }

// Codes returns the catalog sorted.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
