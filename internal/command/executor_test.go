package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_DispatchNonSlashInputIsUnhandled(t *testing.T) {
	e := NewExecutor(nil)
	handled, resp, err := e.Dispatch(context.Background(), "S", "hello there")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, resp)
}

func TestExecutor_DispatchUnknownCommand(t *testing.T) {
	e := NewExecutor(nil)
	handled, resp, err := e.Dispatch(context.Background(), "S", "/nope")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, resp, "unknown command")
}

func TestExecutor_DispatchBuiltinHelp(t *testing.T) {
	e := NewExecutor(nil)
	handled, resp, err := e.Dispatch(context.Background(), "S", "/help")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, resp, "Available commands")
}

func TestExecutor_DispatchRendersPositionalArgs(t *testing.T) {
	e := NewExecutor(nil)
	e.AddCommand(&Command{Name: "greet", Template: "Hello, $1!"})

	handled, resp, err := e.Dispatch(context.Background(), "S", "/greet World")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "Hello, World!", resp)
}

func TestExecutor_DispatchRendersNamedArgs(t *testing.T) {
	e := NewExecutor(nil)
	e.AddCommand(&Command{Name: "run", Template: "running ${target}"})

	_, resp, err := e.Dispatch(context.Background(), "S", "/run --target=tests")
	require.NoError(t, err)
	assert.Equal(t, "running tests", resp)
}

func TestExecutor_DispatchRendersVariables(t *testing.T) {
	e := NewExecutor(map[string]string{"project": "sessiond"})
	e.AddCommand(&Command{Name: "whoami", Template: "{{.var_project}}"})

	_, resp, err := e.Dispatch(context.Background(), "S", "/whoami")
	require.NoError(t, err)
	assert.Equal(t, "sessiond", resp)
}

func TestExecutor_DispatchUsesGoTemplateFuncs(t *testing.T) {
	e := NewExecutor(nil)
	e.AddCommand(&Command{Name: "shout", Template: `{{upper .input}}`})

	_, resp, err := e.Dispatch(context.Background(), "S", "/shout quiet")
	require.NoError(t, err)
	assert.Equal(t, "QUIET", resp)
}

func TestExecutor_AddAndRemoveCommand(t *testing.T) {
	e := NewExecutor(nil)
	e.AddCommand(&Command{Name: "custom", Template: "ok"})

	_, ok := e.Get("custom")
	assert.True(t, ok)

	assert.True(t, e.RemoveCommand("custom"))
	assert.False(t, e.RemoveCommand("custom"))

	_, ok = e.Get("custom")
	assert.False(t, ok)
}

func TestExecutor_ListIncludesBuiltins(t *testing.T) {
	e := NewExecutor(nil)
	names := make(map[string]bool)
	for _, cmd := range e.List() {
		names[cmd.Name] = true
	}
	assert.True(t, names["help"])
	assert.True(t, names["status"])
}

func TestParseArguments_PositionalAndNamed(t *testing.T) {
	args := parseArguments("World --target=tests --force")
	assert.Equal(t, "World --target=tests --force", args["input"])
	assert.Equal(t, "World", args["1"])
	assert.Equal(t, "tests", args["target"])
	assert.Equal(t, "true", args["force"])
}
