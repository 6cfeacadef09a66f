// Package commands holds the host-owned command registry and the dispatcher
// that validates and executes a resolved intent.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	// ErrCommandNotFound means no command is registered for the intent.
	ErrCommandNotFound = errors.New("command not found")
	// ErrInvalidParameters means validation rejected the parameters and
	// the command did not run.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrExecutionFailure means the command ran and failed.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrDuplicate is returned by Register for a name or alias already taken.
	ErrDuplicate = errors.New("duplicate command")
)

// Call is one invocation of a command.
type Call struct {
	UserID string
	Intent string
	// Params are the slot bindings layered over extracted entities.
	Params map[string]string
	// Text is the normalized utterance.
	Text    string
	TraceID string
}

// Command is an executable action bound to an intent name.
type Command interface {
	Name() string
	// Aliases are alternative names the registry also resolves.
	Aliases() []string
	// Required lists the parameters that must be present and non-empty.
	Required() []string
	// Validate reports whether params are acceptable. It must not have
	// side effects.
	Validate(params map[string]string) bool
	Execute(ctx context.Context, call Call) (any, error)
}

// Registry maps intent names and aliases to commands. It is safe for
// concurrent use; hosts may register while turns are served.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	aliases  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
		aliases:  make(map[string]string),
	}
}

// Register adds cmd under its name and aliases. An alias equal to the
// command's own name is ignored.
func (r *Registry) Register(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := cmd.Name()
	if name == "" {
		return errors.New("register command: empty name")
	}
	if r.taken(name) {
		return fmt.Errorf("register %q: %w", name, ErrDuplicate)
	}
	var aliases []string
	for _, a := range cmd.Aliases() {
		if a == "" || a == name || slices.Contains(aliases, a) {
			continue
		}
		if r.taken(a) {
			return fmt.Errorf("register %q: alias %q: %w", name, a, ErrDuplicate)
		}
		aliases = append(aliases, a)
	}

	r.commands[name] = cmd
	for _, a := range aliases {
		r.aliases[a] = name
	}
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.commands[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Replace registers cmd, first removing any command with the same name.
func (r *Registry) Replace(cmd Command) error {
	r.Unregister(cmd.Name())
	return r.Register(cmd)
}

// Unregister removes the command registered under name and its aliases.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.commands, name)
	for a, target := range r.aliases {
		if target == name {
			delete(r.aliases, a)
		}
	}
}

// Lookup finds a command by name, then by alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, ok := r.commands[name]; ok {
		return cmd, true
	}
	if target, ok := r.aliases[name]; ok {
		cmd, ok := r.commands[target]
		return cmd, ok
	}
	return nil, false
}

// Resolve maps a whole utterance to the command that owns it: the command
// named exactly so, or the one holding it as an alias.
func (r *Registry) Resolve(utterance string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.commands[utterance]; ok {
		return utterance, true
	}
	target, ok := r.aliases[utterance]
	return target, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx context.Context, call Call) (any, error)

// Func is a Command assembled from plain values.
type Func struct {
	CommandName string
	AliasList   []string
	RequiredSet []string
	// Check is an optional extra validation run after the required
	// parameters are confirmed.
	Check   func(params map[string]string) bool
	Handler HandlerFunc
}

var _ Command = (*Func)(nil)

func (f *Func) Name() string       { return f.CommandName }
func (f *Func) Aliases() []string  { return f.AliasList }
func (f *Func) Required() []string { return f.RequiredSet }

func (f *Func) Validate(params map[string]string) bool {
	if f.Check == nil {
		return true
	}
	return f.Check(params)
}

func (f *Func) Execute(ctx context.Context, call Call) (any, error) {
	return f.Handler(ctx, call)
}
