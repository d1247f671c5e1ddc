package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond/internal/acl"
	"github.com/sessiond/sessiond/internal/command"
	cfgpkg "github.com/sessiond/sessiond/internal/config"
	"github.com/sessiond/sessiond/internal/cwdsandbox"
	"github.com/sessiond/sessiond/internal/logging"
	"github.com/sessiond/sessiond/internal/manager"
	"github.com/sessiond/sessiond/internal/persistence"
	"github.com/sessiond/sessiond/internal/provider/framed"
	"github.com/sessiond/sessiond/internal/provider/structured"
	"github.com/sessiond/sessiond/internal/pushadapter"
	"github.com/sessiond/sessiond/internal/server"
	"github.com/sessiond/sessiond/pkg/types"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session supervisor's HTTP API",
	Long: `Start sessiond as a headless server that exposes the nine
tool-surface operations (list, spawn, resume, send, read, respond,
switch, stop, summary) over HTTP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory, used to locate project config and .env")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir := serveDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	cfg, err := cfgpkg.Load(workDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Str("directory", workDir).Msg("starting sessiond")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	store := persistence.New(filepath.Join(cfg.DataDir, "sessions.json"))
	aclStore := acl.New()
	sandbox := cwdsandbox.New(cfg.SandboxRoots)

	mgr := manager.New(manager.Config{
		ACL:         aclStore,
		Sandbox:     sandbox,
		Store:       store,
		MaxSessions: cfg.MaxSessions,
	})

	registerProviders(mgr, cfg)

	ctx := context.Background()
	if err := mgr.ReconcileOnStartup(ctx); err != nil {
		logging.Warn().Err(err).Msg("startup reconciliation failed")
	}

	dispatcher := command.NewExecutor(map[string]string{"directory": workDir})

	var pushAdapter *pushadapter.PushAdapter
	if cfg.Push.URL != "" {
		pushAdapter = wirePushAdapter(mgr, cfg)
	}

	srv := server.New(&server.Config{
		Port:         servePort,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}, mgr, dispatcher)

	go func() {
		logging.Info().Int("port", servePort).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	if pushAdapter != nil {
		pushAdapter.Dispose()
		if err := pushAdapter.Close(); err != nil {
			logging.Warn().Err(err).Msg("push adapter close error")
		}
	}

	logging.Info().Msg("server stopped")
	return nil
}

func registerProviders(mgr *manager.Manager, cfg cfgpkg.Config) {
	for name, pc := range cfg.Providers {
		switch name {
		case "codex":
			mgr.RegisterProvider(framed.New(name, pc.Binary, pc.Args))
		default:
			mgr.RegisterProvider(structured.New(name, pc.Binary, structured.NewCLIBackend()))
		}
	}

	if _, ok := cfg.Providers["codex"]; !ok {
		mgr.RegisterProvider(framed.New("codex", "codex", []string{"mcp"}))
	}
	if _, ok := cfg.Providers["claude"]; !ok {
		mgr.RegisterProvider(structured.New("claude", "claude", structured.NewCLIBackend()))
	}
}

// wirePushAdapter fans every session's messages out to the configured
// push destination, binding a session to it the moment its provider
// reports ready (the earliest point a session is known to be worth
// pushing for).
func wirePushAdapter(mgr *manager.Manager, cfg cfgpkg.Config) *pushadapter.PushAdapter {
	debounce := time.Duration(cfg.Push.DebounceMs) * time.Millisecond
	adapter := pushadapter.New(debounce, nil)
	adapter.RegisterDestination(pushadapter.Destination{
		ID:             "default",
		URL:            cfg.Push.URL,
		MaxMessageSize: cfg.Push.MaxMessageSize,
	})

	mgr.OnEvent(func(ev types.SessionEvent) {
		if ev.Type == types.EventReady {
			adapter.BindSession(ev.SessionID, "default")
		}
		adapter.HandleEvents(ev.SessionID, []types.SessionEvent{ev})
	})
	mgr.OnMessage(func(sid string, msg types.SessionMessage) {
		adapter.HandleMessage(sid, msg)
	})
	return adapter
}
