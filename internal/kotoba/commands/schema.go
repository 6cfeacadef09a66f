package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaCommand validates its parameters against a JSON Schema.
type SchemaCommand struct {
	name     string
	aliases  []string
	required []string
	schema   *jsonschema.Schema
	handler  HandlerFunc
}

var _ Command = (*SchemaCommand)(nil)

// NewSchemaCommand compiles schema, a JSON Schema document describing the
// parameter object. Its top-level "required" list becomes Required().
func NewSchemaCommand(name, schema string, handler HandlerFunc, aliases ...string) (*SchemaCommand, error) {
	compiled, err := jsonschema.CompileString("kotoba:///commands/"+name+".json", schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	var head struct {
		Required []string `json:"required"`
	}
	if err := sonic.UnmarshalString(schema, &head); err != nil {
		return nil, fmt.Errorf("read schema for %s: %w", name, err)
	}
	return &SchemaCommand{
		name:     name,
		aliases:  aliases,
		required: head.Required,
		schema:   compiled,
		handler:  handler,
	}, nil
}

func (c *SchemaCommand) Name() string       { return c.name }
func (c *SchemaCommand) Aliases() []string  { return c.aliases }
func (c *SchemaCommand) Required() []string { return c.required }

// Validate implements Command.
func (c *SchemaCommand) Validate(params map[string]string) bool {
	return c.Check(params) == nil
}

// Check returns the schema violation for params, if any.
func (c *SchemaCommand) Check(params map[string]string) error {
	doc := make(map[string]any, len(params))
	for k, v := range params {
		doc[k] = v
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("%s: %s", c.name, strings.TrimSpace(err.Error()))
	}
	return nil
}

func (c *SchemaCommand) Execute(ctx context.Context, call Call) (any, error) {
	return c.handler(ctx, call)
}
