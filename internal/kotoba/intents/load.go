package intents

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// fileSpec is the YAML document layout for an intent table.
type fileSpec struct {
	Intents []definitionSpec `yaml:"intents"`
}

type definitionSpec struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Weight      float64       `yaml:"weight"`
	Context     []string      `yaml:"context"`
	Related     []string      `yaml:"related"`
	Patterns    []patternSpec `yaml:"patterns"`
}

// patternSpec accepts either a bare string or a mapping with static params:
//
//	- go to {screen}
//	- pattern: turn on {device}
//	  params: {action: "on"}
type patternSpec struct {
	Pattern string            `yaml:"pattern"`
	Params  map[string]string `yaml:"params"`
}

func (p *patternSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		p.Pattern = n.Value
		return nil
	}
	type plain patternSpec
	return n.Decode((*plain)(p))
}

// Parse decodes a YAML intent table and compiles every template.
func Parse(data []byte) (*Table, error) {
	var file fileSpec
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("intents: parse yaml: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("%w: no intents defined", ErrInvalidDefinition)
	}

	defs := make([]Definition, 0, len(file.Intents))
	for _, ds := range file.Intents {
		def := Definition{
			Name:        ds.Name,
			Description: ds.Description,
			BaseWeight:  ds.Weight,
			Context:     ds.Context,
			Related:     ds.Related,
		}
		for _, ps := range ds.Patterns {
			tpl, err := Compile(ps.Pattern)
			if err != nil {
				return nil, fmt.Errorf("intent %q: %w", ds.Name, err)
			}
			tpl.Params = ps.Params
			def.Templates = append(def.Templates, tpl)
		}
		defs = append(defs, def)
	}
	return New(defs)
}

// LoadFile reads and parses the YAML intent table at path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intents: read %s: %w", path, err)
	}
	return Parse(data)
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the built-in intent table. The embedded document is
// validated by tests, so an error here means a broken build.
func Default() *Table {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(defaultsYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("intents: embedded defaults: %v", defaultErr))
	}
	return defaultTable
}
