// Package command provides the slash-command dispatch collaborator the
// HTTP send handler (internal/server) consults before handing input to
// Manager.Send
// (spec §6: "input is first offered to the external command parser; if
// handled, the session is not invoked").
//
// # Command Structure
//
// Each command consists of:
//   - Name: the slash-command identifier, without the leading "/"
//   - Description: human-readable help text
//   - Template: a Go template string rendered with the parsed arguments
//
// # Template System
//
//   - ${name} and $name syntax for variable expansion
//   - $1, $2, ... for positional arguments
//   - $input for the full argument string
//   - --name=value or --name value for named arguments
//
// # Built-in Commands
//
// help, clear, status, and stop are registered by default; callers add
// more via AddCommand.
package command
