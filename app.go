// app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"driftpad/internal/api"
	"driftpad/internal/blob"
	"driftpad/internal/chat"
	"driftpad/internal/checkpoint"
	"driftpad/internal/config"
	"driftpad/internal/database"
	"driftpad/internal/eventhub"
	"driftpad/internal/export"
	"driftpad/internal/filetree"
	"driftpad/internal/prefs"
	"driftpad/internal/provider"
	"driftpad/internal/review"
	"driftpad/internal/watcher"
	"driftpad/internal/websocket"
)

// App wires the workspace services together and owns their lifecycle.
type App struct {
	cfg *config.Config
	log *slog.Logger

	db      *database.Database
	hub     *eventhub.EventHub
	bridge  *eventhub.Bridge
	blobs   *blob.Offloader
	ckpts   *checkpoint.Manager
	trees   *filetree.Registry
	reviews *review.Registry
	chat    *chat.Service
	prefs   *prefs.Manager
	export  *export.Exporter
	watcher *watcher.StateWatcher
	ws      *websocket.Server

	server *http.Server
}

// NewApp creates an unstarted App.
func NewApp(cfg *config.Config, log *slog.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Startup builds every service in dependency order. A failure leaves
// already-started services running; callers should follow up with Shutdown.
func (a *App) Startup(ctx context.Context) error {
	cfg := a.cfg

	if err := os.MkdirAll(cfg.State.Dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	db, err := database.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db

	a.hub = eventhub.New()

	if cfg.Redis.Enabled() {
		bridge, err := eventhub.NewBridge(a.hub, cfg.Redis.URL, cfg.Redis.Channel, a.log)
		if err != nil {
			return fmt.Errorf("connect redis fanout: %w", err)
		}
		a.bridge = bridge
		a.log.Info("redis fanout connected", "channel", cfg.Redis.Channel)
	}

	if cfg.Blob.Enabled() {
		store, err := blob.NewMinioStore(ctx, blob.MinioOptions{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("connect blob store: %w", err)
		}
		a.blobs = blob.NewOffloader(store, a.log)
		a.log.Info("blob offload enabled", "bucket", cfg.Blob.Bucket)
	}

	prefsMgr, err := prefs.Load(ctx, db, prefs.Preferences{
		AutoReview:      true,
		DefaultChatMode: chat.ModeAgent,
		PoolWidth:       cfg.Workers.Width,
		UndoDepth:       cfg.Workers.UndoDepth,
	}, a.log)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	a.prefs = prefsMgr

	storage := checkpoint.NewStorage(cfg.State.Dir, cfg.State.Compression)
	a.ckpts = checkpoint.NewManager(storage, db, a.hub, a.log)

	current := prefsMgr.Current()
	a.trees = filetree.NewRegistry(db, a.hub, a.log, filetree.Options{
		UndoDepth: current.UndoDepth,
		PoolWidth: current.PoolWidth,
		Retries:   cfg.Workers.Retries,
	})
	a.reviews = review.NewRegistry(db, a.ckpts, a.hub, a.log)

	completer := provider.NewHTTP(provider.Options{
		Endpoint: cfg.AI.Endpoint,
		APIKey:   cfg.AI.APIKey,
		Timeout:  cfg.AI.Timeout(),
	}, a.log)
	a.chat = chat.NewService(db, completer, a.reviews, a.hub, a.log)

	var resolver export.ContentResolver
	if a.blobs != nil {
		resolver = a.blobs
	}
	a.export = export.New(a.ckpts, db, resolver, a.log)

	w, err := watcher.New(cfg.State.Dir, cfg.State.Debounce(), a.onStateChange, a.log)
	if err != nil {
		return fmt.Errorf("create state watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start state watcher: %w", err)
	}
	a.watcher = w

	bindings := NewBindings(a.trees, a.ckpts, a.chat, a.prefs)
	a.ws = websocket.NewServer(bindings, nil, a.log)
	a.hub.AddBroadcaster(a.ws)

	a.server = &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: a.buildRouter(),
	}

	return nil
}

// onStateChange reacts to session state files rewritten by another process
// sharing the state directory: drop the cached session and tell clients.
func (a *App) onStateChange(ev watcher.Event) {
	a.log.Debug("session state changed on disk", "session_id", ev.SessionID, "kind", ev.Kind)
	a.ckpts.Invalidate(ev.SessionID)
	a.hub.EmitStateReloaded(ev.SessionID)
}

// Run serves HTTP until the context is cancelled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			a.log.Info("shutting down", "signal", sig.String())
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown releases resources in reverse startup order.
func (a *App) Shutdown() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.log.Warn("close state watcher", "error", err)
		}
	}
	if a.ws != nil {
		a.ws.Close()
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.log.Warn("close redis fanout", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close database", "error", err)
		}
	}
	a.log.Info("shutdown complete")
}

// buildRouter assembles the HTTP surface: health at the root, the JSON API
// under /api, and the WebSocket upgrade inside the authorized group.
func (a *App) buildRouter() http.Handler {
	authorize := api.Authorizer(a.cfg.Auth.Enabled(), a.cfg.Auth.TokenHash)

	svcs := api.Services{
		Store:    a.db,
		Trees:    a.trees,
		Reviews:  a.reviews,
		Ckpts:    a.ckpts,
		Chat:     a.chat,
		Prefs:    a.prefs,
		Exporter: a.export,
		Blobs:    a.blobs,
		Log:      a.log,
	}

	return newRouter(svcs, authorize, a.ws.Handler())
}
