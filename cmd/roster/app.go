package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
	"github.com/rosterhq/rostersync/internal/ui"
)

// drainTimeout bounds how long a command waits for background remote
// writes before exiting.
const drainTimeout = 30 * time.Second

// app is one device: a local store, an optional remote and the service on
// top of them.
type app struct {
	cfg     *config.Config
	logOut  io.Writer
	store   local.Store
	backend remote.Backend
	engine  *sync.Engine
	service *roster.Service
}

func openApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logOut: cfg.LogWriter()}

	switch cfg.Local.Driver {
	case "memory":
		a.store = local.NewMemoryStore()
	default:
		store, err := local.Open(cfg.Local.Path, config.Logger(a.logOut, "[local] "))
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	var client *remote.Client
	if cfg.RemoteEnabled() {
		backend, err := openRemote(cfg, a.logOut)
		if err != nil {
			a.store.Close()
			return nil, err
		}
		client, err = remote.NewClient(backend, cfg.Org, remote.ClientOptions{
			Timeout: cfg.Remote.Timeout,
			Logger:  config.Logger(a.logOut, "[remote] "),
		})
		if err != nil {
			backend.Close()
			a.store.Close()
			return nil, err
		}
		a.backend = backend
	}

	a.engine = sync.New(a.store, client, sync.Options{Logger: config.Logger(a.logOut, "[sync] ")})
	a.service = roster.NewService(a.engine, roster.Options{
		Groups:      cfg.Groups,
		ConfigNames: cfg.ConfigNames,
	})
	return a, nil
}

// openRemote creates the backend a device talks to.
func openRemote(cfg *config.Config, logOut io.Writer) (remote.Backend, error) {
	logger := config.Logger(logOut, "[remote] ")
	switch cfg.Remote.Driver {
	case "http":
		b, err := remote.NewHTTPBackend(remote.HTTPOptions{
			BaseURL: cfg.Remote.URL,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		return newRedisBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported remote driver %q", cfg.Remote.Driver)
	}
}

func newRedisBackend(cfg *config.Config, logger *log.Logger) *remote.RedisBackend {
	opts := remote.DefaultRedisOptions()
	opts.Address = cfg.Redis.Addr
	opts.Password = cfg.Redis.Password
	opts.DB = cfg.Redis.DB
	opts.Prefix = cfg.Redis.Prefix
	opts.Logger = logger
	return remote.NewRedisBackend(opts)
}

// mustOpenApp opens the app or exits.
func mustOpenApp() *app {
	a, err := openApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

// Close waits for background remote writes, then closes the stores.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.engine.Drain(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s Some remote writes did not finish: %v\n", ui.RenderWarn("⚠"), err)
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close remote: %v\n", err)
		}
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close local store: %v\n", err)
	}
}
