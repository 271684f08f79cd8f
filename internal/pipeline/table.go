package pipeline

import (
	"fmt"
	"sort"

	"seisarchive/internal/stage"
)

// Table is the closed set of stages known to the process, keyed by name.
type Table struct {
	stages map[string]stage.Stage
}

// NewTable registers stages; duplicate names are rejected.
func NewTable(stages ...stage.Stage) (*Table, error) {
	t := &Table{stages: make(map[string]stage.Stage, len(stages))}
	for _, st := range stages {
		if st == nil {
			continue
		}
		if err := t.add(st.Name(), st); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) add(name string, st stage.Stage) error {
	if name == "" {
		return fmt.Errorf("stage with empty name")
	}
	if _, dup := t.stages[name]; dup {
		return fmt.Errorf("stage %q registered twice", name)
	}
	t.stages[name] = st
	return nil
}

// Lookup returns the stage registered under name.
func (t *Table) Lookup(name string) (stage.Stage, bool) {
	st, ok := t.stages[name]
	return st, ok
}

// Names lists registered stage names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.stages))
	for name := range t.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
