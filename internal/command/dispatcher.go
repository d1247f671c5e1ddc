package command

import "context"

// Dispatcher intercepts a session's raw send input before it reaches the
// session. A slash command such as "/help" is handled entirely here and
// never forwarded (spec §6's send operation); anything else is reported
// unhandled so the caller invokes the session normally.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, input string) (handled bool, response string, err error)
}
