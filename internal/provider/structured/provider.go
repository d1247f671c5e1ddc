package structured

import (
	"context"

	"github.com/sessiond/sessiond/internal/provider"
)

// Provider implements provider.Provider for the structured-streaming
// family.
type Provider struct {
	name    string
	backend Backend
	binary  string
}

// New creates a structured Provider registered under name, backed by a
// subprocess resolved from binary (or "claude" if empty). Pass a fake
// Backend in tests to avoid spawning a real subprocess.
func New(name, binary string, backend Backend) *Provider {
	if backend == nil {
		backend = NewCLIBackend()
	}
	return &Provider{name: name, backend: backend, binary: binary}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Spawn(ctx context.Context, opts provider.SpawnOptions) (provider.Session, error) {
	return NewSession(ctx, p.backend, StartOptions{
		Binary:         p.binary,
		Cwd:            opts.Cwd,
		PermissionMode: string(opts.PermissionMode),
		Model:          opts.Model,
		Task:           opts.Task,
	})
}

func (p *Provider) Resume(ctx context.Context, sessionID string, opts provider.ResumeOptions) (provider.Session, error) {
	return NewSession(ctx, p.backend, StartOptions{
		Binary:         p.binary,
		Cwd:            opts.Cwd,
		PermissionMode: string(opts.PermissionMode),
		Resume:         sessionID,
	})
}

var _ provider.Provider = (*Provider)(nil)
