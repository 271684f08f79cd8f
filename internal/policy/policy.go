// Package policy loads the rule files that name the ordered stages of a
// pipeline run. Built-in policies are embedded; a policy directory may add
// new ones or override them by name.
package policy

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"seisarchive/internal/pipeline"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Policy is one rule file.
type Policy struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Stages      []string `yaml:"stages"`
	// Optional stages are dropped when the process did not register them,
	// e.g. copy2hdfs without an HDFS endpoint.
	Optional []string `yaml:"optional"`
	Detours  []string `yaml:"detours"`
	// Source is the file the policy was read from.
	Source string `yaml:"-"`
}

// Plan resolves the policy against the registered stage names.
func (p Policy) Plan(registered func(name string) bool) pipeline.Plan {
	optional := make(map[string]bool, len(p.Optional))
	for _, name := range p.Optional {
		optional[name] = true
	}
	plan := pipeline.Plan{Name: p.Name, Detours: append([]string(nil), p.Detours...)}
	for _, name := range p.Stages {
		if optional[name] && !registered(name) {
			continue
		}
		plan.Stages = append(plan.Stages, name)
	}
	return plan
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("policy name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("policy %q has no stages", p.Name)
	}
	seen := make(map[string]bool, len(p.Stages))
	for _, name := range p.Stages {
		if seen[name] {
			return fmt.Errorf("policy %q lists stage %q twice", p.Name, name)
		}
		seen[name] = true
	}
	for _, name := range p.Optional {
		if !seen[name] {
			return fmt.Errorf("policy %q marks %q optional but does not list it", p.Name, name)
		}
	}
	for _, name := range p.Detours {
		if seen[name] {
			return fmt.Errorf("policy %q lists %q as both stage and detour", p.Name, name)
		}
	}
	return nil
}

// Set holds policies by name.
type Set map[string]Policy

// Names lists policy names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named policy.
func (s Set) Get(name string) (Policy, error) {
	p, ok := s[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown policy %q (available: %s)", name, strings.Join(s.Names(), ", "))
	}
	return p, nil
}

// Load reads the built-in policies and then every *.yaml or *.yml file in
// dir. dir may be empty or missing.
func Load(dir string) (Set, error) {
	set := Set{}
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin policies: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin policy %s: %w", entry.Name(), err)
		}
		if err := set.add(data, "builtin:"+entry.Name()); err != nil {
			return nil, err
		}
	}

	if dir == "" {
		return set, nil
	}
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}
	for _, f := range files {
		ext := filepath.Ext(f.Name())
		if f.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		if err := set.add(data, path); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s Set) add(data []byte, source string) error {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse policy %s: %w", source, err)
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	p.Source = source
	s[p.Name] = p
	return nil
}
