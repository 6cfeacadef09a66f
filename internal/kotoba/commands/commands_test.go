package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFunc(name string, required []string, h HandlerFunc, aliases ...string) *Func {
	return &Func{CommandName: name, RequiredSet: required, Handler: h, AliasList: aliases}
}

func okHandler(result any) HandlerFunc {
	return func(context.Context, Call) (any, error) { return result, nil }
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("navigate", nil, okHandler(nil), "go", "open", "navigate")))
	require.NoError(t, r.Register(newFunc("search", nil, okHandler(nil), "find")))

	cmd, ok := r.Lookup("navigate")
	require.True(t, ok)
	assert.Equal(t, "navigate", cmd.Name())

	cmd, ok = r.Lookup("open")
	require.True(t, ok)
	assert.Equal(t, "navigate", cmd.Name())

	_, ok = r.Lookup("teleport")
	assert.False(t, ok)

	assert.Equal(t, []string{"navigate", "search"}, r.Names())

	for utterance, want := range map[string]string{"open": "navigate", "find": "search", "search": "search"} {
		got, ok := r.Resolve(utterance)
		assert.True(t, ok, utterance)
		assert.Equal(t, want, got, utterance)
	}
	_, ok = r.Resolve("open settings")
	assert.False(t, ok, "only whole utterances resolve")
}

func TestRegistry_Duplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("navigate", nil, okHandler(nil), "go")))

	err := r.Register(newFunc("navigate", nil, okHandler(nil)))
	assert.ErrorIs(t, err, ErrDuplicate)

	err = r.Register(newFunc("travel", nil, okHandler(nil), "go"))
	assert.ErrorIs(t, err, ErrDuplicate)
	_, ok := r.Lookup("travel")
	assert.False(t, ok, "failed registration leaves no trace")

	err = r.Register(newFunc("go", nil, okHandler(nil)))
	assert.ErrorIs(t, err, ErrDuplicate)

	require.Error(t, r.Register(newFunc("", nil, okHandler(nil))))
}

func TestRegistry_ReplaceAndUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("help", nil, okHandler("old"), "assist")))
	require.NoError(t, r.Replace(newFunc("help", nil, okHandler("new"), "guide")))

	_, ok := r.Lookup("assist")
	assert.False(t, ok)
	cmd, ok := r.Lookup("guide")
	require.True(t, ok)
	got, err := cmd.Execute(context.Background(), Call{})
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	r.Unregister("help")
	_, ok = r.Lookup("help")
	assert.False(t, ok)
}

func TestDispatch(t *testing.T) {
	boom := errors.New("device offline")
	calls := 0
	counting := func(result any, err error) HandlerFunc {
		return func(context.Context, Call) (any, error) {
			calls++
			return result, err
		}
	}

	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("control", []string{"device"}, counting("done", nil))))
	require.NoError(t, r.Register(&Func{
		CommandName: "picky",
		Check:       func(p map[string]string) bool { return p["mode"] == "fast" },
		Handler:     counting("fast", nil),
	}))
	require.NoError(t, r.Register(newFunc("broken", nil, counting(nil, boom))))
	require.NoError(t, r.Register(newFunc("panicky", nil, func(context.Context, Call) (any, error) {
		calls++
		panic("nil map write")
	})))
	d := NewDispatcher(r, nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		call      Call
		wantErr   error
		wantMsg   string
		wantCalls int
		want      any
	}{
		{"success", Call{Intent: "control", Params: map[string]string{"device": "wifi"}}, nil, "", 1, "done"},
		{"not found", Call{Intent: "teleport"}, ErrCommandNotFound, "", 0, nil},
		{"missing required", Call{Intent: "control", Params: map[string]string{}}, ErrInvalidParameters, "", 0, nil},
		{"empty required", Call{Intent: "control", Params: map[string]string{"device": ""}}, ErrInvalidParameters, "", 0, nil},
		{"validate false", Call{Intent: "picky", Params: map[string]string{"mode": "slow"}}, ErrInvalidParameters, "", 0, nil},
		{"validate true", Call{Intent: "picky", Params: map[string]string{"mode": "fast"}}, nil, "", 1, "fast"},
		{"execute error", Call{Intent: "broken"}, ErrExecutionFailure, "device offline", 1, nil},
		{"panic", Call{Intent: "panicky"}, ErrExecutionFailure, "panic: nil map write", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			out, err := d.Dispatch(ctx, tt.call)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, out.Success)
				if tt.wantMsg != "" {
					assert.Equal(t, tt.wantMsg, err.Error())
				}
				return
			}
			require.NoError(t, err)
			assert.True(t, out.Success)
			assert.Equal(t, tt.want, out.Result)
			assert.Equal(t, tt.call.Intent, out.Command)
		})
	}
}

func TestExecutionError_UnwrapsCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := error(&ExecutionError{Command: "search", Err: cause})
	assert.ErrorIs(t, err, ErrExecutionFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "search", ee.Command)
}

func TestSchemaCommand(t *testing.T) {
	cmd, err := NewSchemaCommand("set", `{
		"type": "object",
		"required": ["setting", "value"],
		"properties": {"value": {"enum": ["on", "off"]}}
	}`, okHandler(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"setting", "value"}, cmd.Required())

	assert.True(t, cmd.Validate(map[string]string{"setting": "wifi", "value": "on"}))
	assert.False(t, cmd.Validate(map[string]string{"setting": "wifi", "value": "loud"}))
	assert.False(t, cmd.Validate(map[string]string{"setting": "wifi"}))
	assert.Error(t, cmd.Check(map[string]string{"value": "on"}))

	_, err = NewSchemaCommand("bad", `{"type": 12}`, okHandler(nil))
	assert.Error(t, err)
}

func TestBuiltins(t *testing.T) {
	r, err := DefaultRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"change_settings", "control", "create_task", "emergency", "get_information",
		"help", "navigate", "play_media", "search", "send_message",
	}, r.Names())

	d := NewDispatcher(r, nil)
	ctx := context.Background()

	tests := []struct {
		intent  string
		params  map[string]string
		wantErr error
		want    map[string]any
	}{
		{"navigate", map[string]string{"screen": "settings"}, nil,
			map[string]any{"command": "navigate", "screen": "settings", "success": true}},
		{"navigate", map[string]string{"screen": "narnia"}, ErrInvalidParameters, nil},
		{"control", map[string]string{"device": "wifi", "action": "on"}, nil,
			map[string]any{"command": "control", "device": "wifi", "action": "on", "success": true}},
		{"control", map[string]string{"device": "wifi"}, ErrInvalidParameters, nil},
		{"get_information", map[string]string{"person": "ada lovelace"}, nil,
			map[string]any{"command": "get_information", "person": "ada lovelace", "success": true}},
		{"get_information", map[string]string{"number": "3"}, ErrInvalidParameters, nil},
		{"help", map[string]string{}, nil, map[string]any{"command": "help", "success": true}},
		{"emergency", nil, nil, map[string]any{"command": "emergency", "emergency": true, "success": true}},
		{"play", map[string]string{"media": "music"}, nil,
			map[string]any{"command": "play_media", "media": "music", "success": true}},
		{"send_message", map[string]string{"recipient": "sam", "message": "hi", "person": "Sam"}, nil,
			map[string]any{"command": "send_message", "recipient": "sam", "message": "hi", "success": true}},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			out, err := d.Dispatch(ctx, Call{Intent: tt.intent, Params: tt.params})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Result)
		})
	}
}
