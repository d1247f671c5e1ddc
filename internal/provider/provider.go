// Package provider defines the capability set shared by both concrete
// provider session families (spec §9 Polymorphism) and a small registry
// of named provider instances. Grounded on internal/provider/provider.go's
// Registry-of-named-implementations shape, generalized away from its
// Eino chat-completion interface (Complete/Stream over a ChatModel) to
// the spec's subprocess-session capability set — the two domains don't
// share a method, so the interface here is new, but the registry
// bookkeeping (a map from name to Provider) follows the teacher's;
// registering a name twice replaces the earlier instance.
package provider

import (
	"context"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/pkg/types"
)

// SpawnOptions configures a new session.
type SpawnOptions struct {
	Cwd            string
	Mode           types.Mode
	PermissionMode types.PermissionMode
	Model          string
	Task           string
	Extra          map[string]any
}

// ResumeOptions configures re-attaching/continuing an existing session.
type ResumeOptions struct {
	Cwd            string
	Mode           types.Mode
	PermissionMode types.PermissionMode
}

// Session is the capability set the Manager depends on, implemented by
// both StructuredProvider and FramedProvider sessions. No inheritance
// hierarchy is required (spec §9) — this is satisfied structurally.
type Session interface {
	// ID returns the externally stable session id: the pending id issued
	// at construction, for both providers. It does not change when the
	// backend's own id becomes known.
	ID() string
	Send(ctx context.Context, input string) error
	Read(ctx context.Context, cursor, limit int) ([]types.SessionMessage, error)
	SwitchMode(ctx context.Context, target types.Mode) error
	RespondToPermission(requestID string, approved bool) error
	Stop(ctx context.Context, force bool) error
	OnEvent(fn func(types.SessionEvent)) (unsubscribe func())
	OnMessage(fn func(types.SessionMessage)) (unsubscribe func())
	Pid() int
}

// ReadyWaiter is an optional capability: sessions whose id is not known
// synchronously at construction (StructuredProvider) implement it so
// callers can await readiness instead of racing `not_ready` errors.
type ReadyWaiter interface {
	WaitForReady(ctx context.Context) error
}

// Provider creates and resumes sessions of one backing kind.
type Provider interface {
	Name() string
	Spawn(ctx context.Context, opts SpawnOptions) (Session, error)
	Resume(ctx context.Context, sessionID string, opts ResumeOptions) (Session, error)
}

// Registry holds providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs a provider instance by name. Re-registering the same
// name replaces the previous instance.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, apperrors.New(apperrors.KindUnknownProvider, "unknown provider: "+name)
	}
	return p, nil
}
