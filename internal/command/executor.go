package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

var _ Dispatcher = (*Executor)(nil)

// Command is a registered slash command.
type Command struct {
	Name        string
	Description string
	Template    string
}

// Executor holds a registry of slash commands and renders them against
// parsed arguments. It implements Dispatcher.
type Executor struct {
	commands  map[string]*Command
	variables map[string]string
}

// NewExecutor creates an Executor seeded with the built-in commands.
// vars are available to every template under ctx.vars and as $var_<name>.
func NewExecutor(vars map[string]string) *Executor {
	e := &Executor{
		commands:  make(map[string]*Command),
		variables: make(map[string]string),
	}
	for k, v := range vars {
		e.variables[k] = v
	}
	for _, cmd := range BuiltinCommands() {
		e.commands[cmd.Name] = cmd
	}
	return e
}

// List returns every registered command.
func (e *Executor) List() []*Command {
	out := make([]*Command, 0, len(e.commands))
	for _, cmd := range e.commands {
		out = append(out, cmd)
	}
	return out
}

// Get returns a command by name.
func (e *Executor) Get(name string) (*Command, bool) {
	cmd, ok := e.commands[name]
	return cmd, ok
}

// AddCommand registers or replaces a command.
func (e *Executor) AddCommand(cmd *Command) {
	e.commands[cmd.Name] = cmd
}

// RemoveCommand removes a command by name, reporting whether it existed.
func (e *Executor) RemoveCommand(name string) bool {
	if _, ok := e.commands[name]; !ok {
		return false
	}
	delete(e.commands, name)
	return true
}

// Dispatch implements Dispatcher: input not starting with "/" is
// reported unhandled; otherwise the named command is rendered (or an
// "unknown command" response returned) and handled is true either way,
// since a slash-prefixed input was always meant for the dispatcher, not
// the session.
func (e *Executor) Dispatch(ctx context.Context, sessionID, input string) (bool, string, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return false, "", nil
	}

	rest := strings.TrimPrefix(trimmed, "/")
	name, args, _ := strings.Cut(rest, " ")

	cmd, ok := e.commands[name]
	if !ok {
		return true, fmt.Sprintf("unknown command: /%s", name), nil
	}

	response, err := e.render(cmd.Template, args)
	if err != nil {
		return true, "", err
	}
	return true, response, nil
}

func (e *Executor) render(tmplStr, args string) (string, error) {
	parsed := parseArguments(args)
	ctx := e.buildTemplateContext(parsed)
	return e.executeTemplate(tmplStr, ctx)
}

// parseArguments splits args into $input, positional $1.. , and
// --name=value/--name value named arguments.
func parseArguments(args string) map[string]string {
	result := make(map[string]string)
	result["input"] = strings.TrimSpace(args)

	for i, part := range strings.Fields(args) {
		result[strconv.Itoa(i+1)] = part
	}

	namedRe := regexp.MustCompile(`--(\w+)(?:=(\S+)|(?:\s+(\S+))?)`)
	for _, match := range namedRe.FindAllStringSubmatch(args, -1) {
		name, value := match[1], match[2]
		if value == "" {
			value = match[3]
		}
		if value == "" {
			value = "true"
		}
		result[name] = value
	}

	return result
}

func (e *Executor) buildTemplateContext(args map[string]string) map[string]any {
	ctx := make(map[string]any)
	ctx["args"] = args
	ctx["input"] = args["input"]

	for k, v := range args {
		if _, err := strconv.Atoi(k); err == nil {
			ctx[k] = v
		}
	}

	ctx["vars"] = e.variables
	for k, v := range e.variables {
		ctx["var_"+k] = v
	}

	return ctx
}

func (e *Executor) executeTemplate(tmplStr string, ctx map[string]any) (string, error) {
	tmplStr = expandSimpleVariables(tmplStr, ctx)

	tmpl, err := template.New("command").Funcs(templateFuncs()).Parse(tmplStr)
	if err != nil {
		return tmplStr, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return tmplStr, nil
	}
	return buf.String(), nil
}

// expandSimpleVariables expands ${name} and $name syntax ahead of Go
// template execution, so commands that don't use template actions at all
// still get variable substitution.
func expandSimpleVariables(s string, ctx map[string]any) string {
	braced := regexp.MustCompile(`\$\{(\w+)\}`)
	s = braced.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return lookupVar(ctx, name, match)
	})

	bare := regexp.MustCompile(`\$(\w+)`)
	s = bare.ReplaceAllStringFunc(s, func(match string) string {
		return lookupVar(ctx, match[1:], match)
	})

	return s
}

func lookupVar(ctx map[string]any, name, fallback string) string {
	if val, ok := ctx[name]; ok {
		return fmt.Sprint(val)
	}
	if args, ok := ctx["args"].(map[string]string); ok {
		if val, ok := args[name]; ok {
			return val
		}
	}
	return fallback
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"env": func(name string) string {
			return os.Getenv(name)
		},
		"default": func(defaultVal, val string) string {
			if val == "" {
				return defaultVal
			}
			return val
		},
		"trim":    strings.TrimSpace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"replace": strings.ReplaceAll,
		"split":   strings.Split,
		"join":    strings.Join,
	}
}

// BuiltinCommands returns the default slash commands every Executor is
// seeded with.
func BuiltinCommands() []*Command {
	return []*Command{
		{Name: "help", Description: "Show available commands", Template: "Available commands: help, clear, status, stop"},
		{Name: "clear", Description: "Clear the session's message buffer view", Template: "cleared"},
		{Name: "status", Description: "Report session status", Template: "session $input status requested"},
		{Name: "stop", Description: "Stop the current session", Template: "stop requested"},
	}
}
