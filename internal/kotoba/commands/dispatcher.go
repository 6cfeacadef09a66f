package commands

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bdobrica/kotoba/common/trace"
)

// ExecutionError carries a command failure. Its message is the command's
// own error text, unchanged.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExecutionFailure) match.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailure }

// Outcome is the result of one Dispatch.
type Outcome struct {
	Success bool
	Result  any
	// Command is the canonical name of the command that handled the call.
	Command string
	Latency time.Duration
}

// Dispatcher validates and executes calls against a Registry. Failures are
// never retried.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher over registry. If logger is nil, the
// default slog logger is used.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Check resolves and validates call without executing it. The error wraps
// ErrCommandNotFound or ErrInvalidParameters.
func (d *Dispatcher) Check(ctx context.Context, call Call) (Command, error) {
	cmd, ok := d.registry.Lookup(call.Intent)
	if !ok {
		trace.Logger(ctx, d.logger).Error("no command registered for intent",
			"intent", call.Intent,
			"user", call.UserID,
		)
		return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, call.Intent)
	}
	for _, p := range cmd.Required() {
		if call.Params[p] == "" {
			return cmd, fmt.Errorf("%w: missing %q for %s", ErrInvalidParameters, p, cmd.Name())
		}
	}
	if !cmd.Validate(call.Params) {
		return cmd, fmt.Errorf("%w: rejected by %s", ErrInvalidParameters, cmd.Name())
	}
	return cmd, nil
}

// Execute runs a command returned by Check. A returned error or a panic
// becomes an *ExecutionError.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command, call Call) (out Outcome, err error) {
	start := time.Now()
	out.Command = cmd.Name()
	defer func() {
		if r := recover(); r != nil {
			trace.Logger(ctx, d.logger).Error("command panicked",
				"command", cmd.Name(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out.Success = false
			out.Result = nil
			err = &ExecutionError{Command: cmd.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
		out.Latency = time.Since(start)
	}()

	result, execErr := cmd.Execute(ctx, call)
	if execErr != nil {
		return out, &ExecutionError{Command: cmd.Name(), Err: execErr}
	}
	out.Success = true
	out.Result = result
	return out, nil
}

// Dispatch checks and executes call.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (Outcome, error) {
	cmd, err := d.Check(ctx, call)
	if err != nil {
		return Outcome{}, err
	}
	return d.Execute(ctx, cmd, call)
}
