package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/docserver"
	"github.com/rosterhq/rostersync/internal/importer"
	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
	"github.com/rosterhq/rostersync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the shared document server devices sync through",
	Long: `Start the document server. Devices configured with remote.driver=http
read, write and listen to documents through it.

Endpoints:
  GET/PATCH/PUT /v1/docs/organizations/{org}/{collection}/{id}
  POST          /v1/batch
  GET           /v1/listen?path=...   (WebSocket)
  GET           /health
  GET           /metrics

The documents live in the store selected by server.store (memory, sqlite or
redis). With --import-dir, roster files dropped into that directory are
written straight into the store for --org.

Example usage:
  roster serve                          # SQLite store at .roster/documents.db
  roster serve --addr :9000 --store memory
  roster serve --import-dir rosters --org acme`,
	Run: func(cmd *cobra.Command, args []string) {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if store, _ := cmd.Flags().GetString("store"); store != "" {
			cfg.Server.Store = store
		}
		importDir, _ := cmd.Flags().GetString("import-dir")
		logOut := cfg.LogWriter()

		backend, err := openServerStore(cfg, config.Logger(logOut, "[remote] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer backend.Close()

		server := docserver.NewServer(backend, &docserver.Config{
			Addr:   cfg.Server.Addr,
			Logger: config.Logger(logOut, "[docserver] "),
		})
		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start document server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Document server started on http://%s (%s store)\n", ui.RenderAccent("🚀"), server.Addr(), cfg.Server.Store)
		fmt.Printf("   Listen endpoint: ws://%s%s\n", server.Addr(), remote.ListenPath)
		fmt.Printf("   Health check: http://%s/health\n", server.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		var engine *sync.Engine
		if importDir != "" {
			var w *importer.Watcher
			engine, w, err = newServerImporter(backend, importDir, logOut)
			if err != nil {
				server.Stop()
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("   Importing rosters from %s into %s\n", importDir, cfg.Org)
			g.Go(func() error { return w.Run(ctx) })
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		g.Go(func() error {
			<-ctx.Done()
			fmt.Println("\nShutting down document server...")
			return server.Stop()
		})

		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		if engine != nil {
			dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			_ = engine.Drain(dctx)
		}
		fmt.Println("Document server stopped")
	},
}

// openServerStore opens the backend the document server fronts.
func openServerStore(cfg *config.Config, logger *log.Logger) (remote.Backend, error) {
	switch cfg.Server.Store {
	case "memory":
		return remote.NewMemoryBackend(), nil
	case "sqlite":
		b, err := remote.OpenSQL(cfg.Server.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		b := newRedisBackend(cfg, logger)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout)
		defer cancel()
		if err := b.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported server store %q", cfg.Server.Store)
	}
}

// newServerImporter builds an in-process device on top of the server's own
// backend, so imported rosters go straight to the shared store.
func newServerImporter(backend remote.Backend, dir string, logOut io.Writer) (*sync.Engine, *importer.Watcher, error) {
	client, err := remote.NewClient(backend, cfg.Org, remote.ClientOptions{
		Timeout: cfg.Remote.Timeout,
		Logger:  config.Logger(logOut, "[remote] "),
	})
	if err != nil {
		return nil, nil, err
	}
	engine := sync.New(local.NewMemoryStore(), client, sync.Options{Logger: config.Logger(logOut, "[sync] ")})
	service := roster.NewService(engine, roster.Options{Groups: cfg.Groups, ConfigNames: cfg.ConfigNames})
	w, err := importer.New(dir, service, &importer.Config{
		DebounceInterval: cfg.Import.Debounce,
		Groups:           cfg.Groups,
		Logger:           config.Logger(logOut, "[import] "),
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, w, nil
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default from server.addr, :8420)")
	serveCmd.Flags().String("store", "", "Document store: memory, sqlite or redis (default from server.store)")
	serveCmd.Flags().String("import-dir", "", "Import roster files from this directory into the store")
	rootCmd.AddCommand(serveCmd)
}
