package commands

import (
	"context"
	"embed"
	"fmt"
	"path"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// builtin describes one default command: the keys echoed back in its
// acknowledgement and its aliases.
type builtin struct {
	name    string
	echo    []string
	aliases []string
}

var builtins = []builtin{
	{"navigate", []string{"screen"}, []string{"go", "open", "show", "switch"}},
	{"search", []string{"query"}, []string{"find", "look", "google"}},
	{"send_message", []string{"recipient", "message"}, []string{"text", "message"}},
	{"play_media", []string{"media"}, []string{"play", "start", "begin"}},
	{"control", []string{"device", "action"}, []string{"turn", "enable", "disable", "activate"}},
	{"get_information", []string{"topic", "person", "event", "location", "action"}, []string{"what", "tell", "explain", "how"}},
	{"create_task", []string{"task"}, []string{"create", "add", "new", "remind", "schedule"}},
	{"change_settings", []string{"setting", "value"}, []string{"change", "set", "update", "modify", "adjust"}},
	{"help", []string{"topic"}, []string{"assist", "guide"}},
	{"emergency", nil, []string{"urgent", "critical", "sos"}},
}

// Builtins returns the default command set. Each handler acknowledges the
// call with the parameters it acted on; hosts replace them with real
// integrations through Registry.Replace.
func Builtins() ([]Command, error) {
	out := make([]Command, 0, len(builtins))
	for _, b := range builtins {
		schema, err := schemaFS.ReadFile(path.Join("schemas", b.name+".json"))
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", b.name, err)
		}
		cmd, err := NewSchemaCommand(b.name, string(schema), acknowledge(b), b.aliases...)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// DefaultRegistry returns a registry holding Builtins.
func DefaultRegistry() (*Registry, error) {
	cmds, err := Builtins()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func acknowledge(b builtin) HandlerFunc {
	return func(ctx context.Context, call Call) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ack := map[string]any{"command": b.name, "success": true}
		for _, k := range b.echo {
			if v, ok := call.Params[k]; ok {
				ack[k] = v
			}
		}
		if b.name == "emergency" {
			ack["emergency"] = true
		}
		return ack, nil
	}
}
