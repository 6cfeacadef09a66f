// Package intents holds the pattern table: the immutable, compiled-at-load set
// of intent definitions the classifier scores utterances against.
//
// A Table is never mutated after New returns, so concurrent readers need no
// locking. Reloading the table (see Source and Watcher) swaps in a brand-new
// Table; turns already in flight keep the one they started with.
package intents

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidDefinition is returned when an intent definition fails validation.
var ErrInvalidDefinition = errors.New("intents: invalid definition")

// Unknown is the intent name reported when no template matches.
const Unknown = "unknown"

// Definition describes one intent: its templates in priority order, the
// author's static confidence weight and the context tags that boost it.
type Definition struct {
	Name       string
	Templates  []Template
	BaseWeight float64
	Context    []string
	// Related lists intents considered close enough that a recent use of one
	// raises confidence in the other. Relations are symmetric once loaded.
	Related []string
	// Description is shown by `kotoba intents` and in provider prompts.
	Description string
}

// Table is an ordered, immutable collection of intent definitions.
type Table struct {
	defs    []Definition
	index   map[string]int
	related map[string]map[string]bool
}

// New validates defs and builds a Table. Declaration order is preserved and
// breaks score ties.
func New(defs []Definition) (*Table, error) {
	t := &Table{
		defs:    make([]Definition, 0, len(defs)),
		index:   make(map[string]int, len(defs)),
		related: make(map[string]map[string]bool),
	}
	var errs []error
	for _, d := range defs {
		if err := validate(d); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := t.index[d.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate intent %q", ErrInvalidDefinition, d.Name))
			continue
		}
		t.index[d.Name] = len(t.defs)
		t.defs = append(t.defs, cloneDefinition(d))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, d := range t.defs {
		for _, r := range d.Related {
			if _, ok := t.index[r]; !ok {
				errs = append(errs, fmt.Errorf("%w: intent %q relates to unknown intent %q", ErrInvalidDefinition, d.Name, r))
				continue
			}
			t.relate(d.Name, r)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func validate(d Definition) error {
	switch {
	case d.Name == "":
		return fmt.Errorf("%w: empty intent name", ErrInvalidDefinition)
	case d.Name == Unknown:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidDefinition, Unknown)
	case len(d.Templates) == 0:
		return fmt.Errorf("%w: intent %q has no templates", ErrInvalidDefinition, d.Name)
	case d.BaseWeight <= 0 || d.BaseWeight > 1:
		return fmt.Errorf("%w: intent %q base weight %v outside (0,1]", ErrInvalidDefinition, d.Name, d.BaseWeight)
	}
	for i, tpl := range d.Templates {
		if len(tpl.tokens) == 0 {
			return fmt.Errorf("%w: intent %q template %d is not compiled", ErrInvalidDefinition, d.Name, i)
		}
	}
	return nil
}

func (t *Table) relate(a, b string) {
	if a == b {
		return
	}
	if t.related[a] == nil {
		t.related[a] = make(map[string]bool)
	}
	if t.related[b] == nil {
		t.related[b] = make(map[string]bool)
	}
	t.related[a][b] = true
	t.related[b][a] = true
}

// Definitions returns the definitions in declaration order. The slice is a
// copy; the templates inside are shared and must be treated as read-only.
func (t *Table) Definitions() []Definition {
	return slices.Clone(t.defs)
}

// Len returns the number of intents.
func (t *Table) Len() int { return len(t.defs) }

// Lookup returns the definition registered under name.
func (t *Table) Lookup(name string) (Definition, bool) {
	i, ok := t.index[name]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}

// Related reports whether a and b are declared related.
func (t *Table) Related(a, b string) bool {
	return t.related[a][b]
}

// Names returns intent names in declaration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.defs))
	for i, d := range t.defs {
		out[i] = d.Name
	}
	return out
}

func cloneDefinition(d Definition) Definition {
	d.Templates = slices.Clone(d.Templates)
	d.Context = slices.Clone(d.Context)
	d.Related = slices.Clone(d.Related)
	return d
}
