// Package manager implements the SessionManager: the single component
// that owns the live-session registry, admission control, ownership
// binding, buffered cursor reads with blocking waits, the mode-switch
// state machine, retry-on-failure, and startup reconciliation (spec
// §4.8-§4.9). Grounded on internal/session/service.go's
// sync.RWMutex-guarded active-session map and registry CRUD shape,
// generalized from its storage-backed persistence model to the spec's
// split between an in-memory live map and a flat-file PersistedSession
// snapshot (internal/persistence).
package manager

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sessiond/sessiond/internal/acl"
	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/internal/cwdsandbox"
	"github.com/sessiond/sessiond/internal/eventbus"
	"github.com/sessiond/sessiond/internal/logging"
	"github.com/sessiond/sessiond/internal/persistence"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/pkg/types"
)

const (
	defaultReadLimit = 50
	drainTimeout     = 30 * time.Second
)

// liveSession is the Manager's bookkeeping for one attached session.
type liveSession struct {
	mu sync.RWMutex

	record  types.Session
	session provider.Session
	buffer  []types.SessionMessage

	messageBus *eventbus.Bus[types.SessionMessage]
	unsubMsg   func()
	unsubEvt   func()
}

// Manager is the SessionManager.
type Manager struct {
	mu sync.RWMutex

	providers *provider.Registry
	acl       *acl.ACL
	sandbox   *cwdsandbox.Sandbox
	store     *persistence.Store
	redactor  Redactor

	sessions map[string]*liveSession

	// detached tracks sessions reconciled as alive-but-unattached at
	// startup: known to the ACL and persistence layer, marked running in
	// switch-state terms, but absent from the live map until an explicit
	// resume re-attaches a Provider session to them.
	detached map[string]types.PersistedSession

	maxSessions int

	eventBus      *eventbus.Bus[types.SessionEvent]
	sessionEndBus *eventbus.Bus[string]
	allMessageBus *eventbus.Bus[SessionMessageEnvelope]
}

// SessionMessageEnvelope pairs a message with the session it belongs to,
// for subscribers (e.g. a PushAdapter) that listen across every session
// rather than one at a time.
type SessionMessageEnvelope struct {
	SessionID string
	Message   types.SessionMessage
}

// Config configures a new Manager. ACL, Sandbox, and Store are required;
// Redactor defaults to NoopRedactor, MaxSessions defaults to 100.
type Config struct {
	ACL         *acl.ACL
	Sandbox     *cwdsandbox.Sandbox
	Store       *persistence.Store
	Redactor    Redactor
	MaxSessions int
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	if cfg.Redactor == nil {
		cfg.Redactor = NoopRedactor{}
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	return &Manager{
		providers:     provider.NewRegistry(),
		acl:           cfg.ACL,
		sandbox:       cfg.Sandbox,
		store:         cfg.Store,
		redactor:      cfg.Redactor,
		sessions:      make(map[string]*liveSession),
		detached:      make(map[string]types.PersistedSession),
		maxSessions:   cfg.MaxSessions,
		eventBus:      eventbus.New[types.SessionEvent](),
		sessionEndBus: eventbus.New[string](),
		allMessageBus: eventbus.New[SessionMessageEnvelope](),
	}
}

// RegisterProvider installs a provider instance by name.
func (m *Manager) RegisterProvider(p provider.Provider) {
	m.providers.Register(p)
}

// OnEvent subscribes fn to every live session's events (e.g. for a
// PushAdapter consumer), returning an unsubscribe closure.
func (m *Manager) OnEvent(fn func(types.SessionEvent)) func() {
	return m.eventBus.Subscribe(fn)
}

// OnMessage subscribes fn to every live session's messages, returning an
// unsubscribe closure. Used by cross-session consumers like a
// PushAdapter; per-session consumers of a single session's buffer use
// ReadMessages/WaitForMessages instead.
func (m *Manager) OnMessage(fn func(sid string, msg types.SessionMessage)) func() {
	return m.allMessageBus.Subscribe(func(env SessionMessageEnvelope) {
		fn(env.SessionID, env.Message)
	})
}

// SpawnOptions configures a new session via the Manager.
type SpawnOptions struct {
	Provider       string
	Cwd            string
	Mode           types.Mode
	PermissionMode types.PermissionMode
	Model          string
	Task           string
}

// Spawn creates a new session owned by ownerID: verifies the provider
// exists, checks the cwd sandbox, applies admission control, creates the
// provider session, binds ownership before attaching listeners, and
// persists the result.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions, ownerID string) (types.Session, error) {
	p, err := m.providers.Get(opts.Provider)
	if err != nil {
		return types.Session{}, err
	}

	cwd, err := m.sandbox.AssertAllowed(opts.Cwd)
	if err != nil {
		return types.Session{}, err
	}

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return types.Session{}, apperrors.New(apperrors.KindAdmissionDenied, "session limit reached")
	}
	m.mu.Unlock()

	mode := opts.Mode
	if mode == "" {
		mode = types.ModeRemote
	}

	sess, err := p.Spawn(ctx, provider.SpawnOptions{
		Cwd:            cwd,
		Mode:           mode,
		PermissionMode: opts.PermissionMode,
		Model:          opts.Model,
		Task:           opts.Task,
	})
	if err != nil {
		return types.Session{}, err
	}

	record := types.Session{
		ID:                    sess.ID(),
		Provider:              opts.Provider,
		Cwd:                   cwd,
		Pid:                   sess.Pid(),
		Mode:                  mode,
		OwnerID:               ownerID,
		CreatedAt:             nowMillis(),
		SwitchState:           types.SwitchRunning,
		LastActivityTimestamp: nowMillis(),
	}

	// Bind owner before attaching listeners: a listener that fires before
	// the ACL binding exists would see an unbound session if it tried to
	// authorize against it.
	if err := m.acl.SetOwner(record.ID, ownerID); err != nil {
		_ = sess.Stop(ctx, true)
		return types.Session{}, err
	}

	ls := &liveSession{
		record:     record,
		session:    sess,
		messageBus: eventbus.New[types.SessionMessage](),
	}

	m.mu.Lock()
	m.sessions[record.ID] = ls
	m.mu.Unlock()

	m.attachListeners(record.ID, ls)

	if err := m.store.Add(record.ToPersisted()); err != nil {
		logging.Session(logging.Warn(), record.ID).Err(err).Msg("manager: failed to persist spawned session")
	}

	return record, nil
}

// ResumeOptions configures re-attaching or continuing an existing
// session.
type ResumeOptions struct {
	Mode           types.Mode
	PermissionMode types.PermissionMode
}

// Resume re-attaches a provider session to sid, whether sid is currently
// live (a fresh provider connection replaces the old one, buffer
// preserved) or merely detached-but-alive from a prior reconciliation
// (cwd/provider/mode recovered from the detached record).
func (m *Manager) Resume(ctx context.Context, sid string, opts ResumeOptions, ownerID string) (types.Session, error) {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return types.Session{}, err
	}

	m.mu.RLock()
	ls, live := m.sessions[sid]
	detachedRec, wasDetached := m.detached[sid]
	m.mu.RUnlock()

	var providerName, cwd string
	var mode types.Mode
	var createdAt int64
	var buffer []types.SessionMessage

	switch {
	case live:
		ls.mu.RLock()
		providerName = ls.record.Provider
		cwd = ls.record.Cwd
		mode = ls.record.Mode
		createdAt = ls.record.CreatedAt
		buffer = append([]types.SessionMessage(nil), ls.buffer...)
		ls.mu.RUnlock()
	case wasDetached:
		providerName = detachedRec.Provider
		cwd = detachedRec.Cwd
		mode = detachedRec.Mode
		createdAt = detachedRec.CreatedAt
	default:
		return types.Session{}, apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	if opts.Mode != "" {
		mode = opts.Mode
	}

	p, err := m.providers.Get(providerName)
	if err != nil {
		return types.Session{}, err
	}

	newSess, err := p.Resume(ctx, sid, provider.ResumeOptions{Cwd: cwd, Mode: mode, PermissionMode: opts.PermissionMode})
	if err != nil {
		return types.Session{}, err
	}

	record := types.Session{
		ID:                    sid,
		Provider:              providerName,
		Cwd:                   cwd,
		Pid:                   newSess.Pid(),
		Mode:                  mode,
		OwnerID:               ownerID,
		CreatedAt:             createdAt,
		SwitchState:           types.SwitchRunning,
		LastActivityTimestamp: nowMillis(),
	}

	if live {
		ls.mu.Lock()
		if ls.unsubMsg != nil {
			ls.unsubMsg()
		}
		if ls.unsubEvt != nil {
			ls.unsubEvt()
		}
		ls.session = newSess
		ls.record = record
		ls.buffer = buffer
		ls.mu.Unlock()
	} else {
		ls = &liveSession{
			record:     record,
			session:    newSess,
			messageBus: eventbus.New[types.SessionMessage](),
		}
	}

	m.mu.Lock()
	m.sessions[sid] = ls
	delete(m.detached, sid)
	m.mu.Unlock()

	m.attachListeners(sid, ls)

	if err := m.store.Update(sid, func(p *types.PersistedSession) {
		p.Mode = mode
		p.Pid = newSess.Pid()
	}); err != nil {
		logging.Session(logging.Warn(), sid).Err(err).Msg("manager: failed to persist resumed session")
	}

	return record, nil
}

// Get returns the current record for sid, whether live or
// detached-but-alive.
func (m *Manager) Get(sid string) (types.Session, error) {
	m.mu.RLock()
	ls, live := m.sessions[sid]
	rec, detached := m.detached[sid]
	m.mu.RUnlock()

	if live {
		ls.mu.RLock()
		defer ls.mu.RUnlock()
		return ls.record, nil
	}
	if detached {
		return types.Session{
			ID: rec.ID, Provider: rec.Provider, Cwd: rec.Cwd, Pid: rec.Pid,
			Mode: rec.Mode, OwnerID: rec.OwnerID, CreatedAt: rec.CreatedAt,
			SwitchState: types.SwitchRunning,
		}, nil
	}
	return types.Session{}, apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
}

// GetSwitchState returns sid's current mode-switch state.
func (m *Manager) GetSwitchState(sid string) (types.SwitchState, error) {
	rec, err := m.Get(sid)
	if err != nil {
		return "", err
	}
	return rec.SwitchState, nil
}

// GetLastActivity returns sid's last-activity timestamp in epoch
// milliseconds.
func (m *Manager) GetLastActivity(sid string) (int64, error) {
	rec, err := m.Get(sid)
	if err != nil {
		return 0, err
	}
	return rec.LastActivityTimestamp, nil
}

// ListFilter narrows List's results.
type ListFilter struct {
	Cwd      string
	Provider string
}

// List returns every live session matching filter, ordered by creation
// time. Detached-but-alive sessions are not included: they have no
// attached provider session to report on beyond their persisted record.
func (m *Manager) List(filter ListFilter) []types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Session, 0, len(m.sessions))
	for _, ls := range m.sessions {
		ls.mu.RLock()
		rec := ls.record
		ls.mu.RUnlock()
		if filter.Cwd != "" && rec.Cwd != filter.Cwd {
			continue
		}
		if filter.Provider != "" && rec.Provider != filter.Provider {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Size returns the count of live sessions.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop terminates sid's provider session and removes it from the
// registry.
func (m *Manager) Stop(ctx context.Context, sid string, force bool, ownerID string) error {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	ls.mu.RLock()
	sess := ls.session
	ls.mu.RUnlock()

	if err := sess.Stop(ctx, force); err != nil {
		logging.Session(logging.Warn(), sid).Err(err).Msg("manager: provider stop failed")
	}

	m.cleanup(sid)
	return nil
}

// attachListeners wires a liveSession's provider session into the
// Manager's per-session message bus and shared event bus, and installs
// the process-exit-detection cleanup trigger (spec §4.9).
func (m *Manager) attachListeners(sid string, ls *liveSession) {
	unsubMsg := ls.session.OnMessage(func(msg types.SessionMessage) {
		ls.mu.Lock()
		ls.buffer = append(ls.buffer, msg)
		ls.record.LastActivityTimestamp = nowMillis()
		ls.mu.Unlock()
		ls.messageBus.Publish(msg)
		m.allMessageBus.Publish(SessionMessageEnvelope{SessionID: sid, Message: msg})
	})

	unsubEvt := ls.session.OnEvent(func(ev types.SessionEvent) {
		m.eventBus.Publish(ev)

		if !containsProcessExitSubstring(ev.Summary) {
			return
		}
		ls.mu.RLock()
		state := ls.record.SwitchState
		ls.mu.RUnlock()
		if state != types.SwitchDraining && state != types.SwitchSwitching {
			m.cleanup(sid)
		}
	})

	ls.mu.Lock()
	ls.unsubMsg = unsubMsg
	ls.unsubEvt = unsubEvt
	ls.mu.Unlock()
}

func containsProcessExitSubstring(summary string) bool {
	for _, substr := range []string{"Process exited", "process exited", "Process error"} {
		if strings.Contains(summary, substr) {
			return true
		}
	}
	return false
}

// cleanup removes sid from every Manager-owned map: live registry,
// switch-state (implicit, since the record goes with it), ACL, and
// persistence. Subsequent operations on sid fail not_found (spec §4.8.2).
func (m *Manager) cleanup(sid string) {
	m.mu.Lock()
	ls, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
	}
	delete(m.detached, sid)
	m.mu.Unlock()

	if ok {
		ls.mu.Lock()
		if ls.unsubMsg != nil {
			ls.unsubMsg()
		}
		if ls.unsubEvt != nil {
			ls.unsubEvt()
		}
		ls.messageBus.Close()
		ls.mu.Unlock()
	}

	m.acl.RemoveSession(sid)
	if err := m.store.Remove(sid); err != nil {
		logging.Session(logging.Warn(), sid).Err(err).Msg("manager: failed to remove persisted session")
	}
	m.sessionEndBus.Publish(sid)
}

// ReconcileOnStartup partitions persisted sessions into alive (process
// still running) and dead. Dead entries are dropped from persistence.
// Alive entries are marked detached-but-running: known to Get and the
// ACL (List reports live sessions only), but absent from the live map until an explicit Resume
// re-attaches a provider session.
func (m *Manager) ReconcileOnStartup(ctx context.Context) error {
	persisted, err := m.store.Load()
	if err != nil {
		return err
	}

	var dead []string
	for _, p := range persisted {
		if !pidAlive(p.Pid) {
			dead = append(dead, p.ID)
			continue
		}

		if err := m.acl.SetOwner(p.ID, p.OwnerID); err != nil {
			logging.Session(logging.Warn(), p.ID).Err(err).Msg("manager: reconcile owner rebind failed")
		}
		m.mu.Lock()
		m.detached[p.ID] = p
		m.mu.Unlock()
	}

	if len(dead) > 0 {
		if err := m.store.RemoveMany(dead); err != nil {
			return err
		}
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
