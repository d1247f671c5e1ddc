package framed

import (
	"context"

	"github.com/sessiond/sessiond/internal/provider"
)

// Provider implements provider.Provider for the framed JSON-RPC
// subprocess family.
type Provider struct {
	name    string
	command string
	args    []string
}

// New creates a framed Provider registered under name, spawning command
// (with args) as the subprocess binary.
func New(name, command string, args []string) *Provider {
	return &Provider{name: name, command: command, args: args}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Spawn(ctx context.Context, opts provider.SpawnOptions) (provider.Session, error) {
	return NewSession(ctx, StartOptions{
		Command:        p.command,
		Args:           p.args,
		Cwd:            opts.Cwd,
		PermissionMode: opts.PermissionMode,
	})
}

func (p *Provider) Resume(ctx context.Context, sessionID string, opts provider.ResumeOptions) (provider.Session, error) {
	return NewSession(ctx, StartOptions{
		Command:        p.command,
		Args:           p.args,
		Cwd:            opts.Cwd,
		PermissionMode: opts.PermissionMode,
		Resume:         sessionID,
	})
}

var _ provider.Provider = (*Provider)(nil)
