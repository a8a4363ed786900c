package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/importer"
	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
	"github.com/rosterhq/rostersync/internal/ui"
)

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Write every local roster and configuration value to the remote store",
	Long: `Reconcile the remote store with this device.

All group rosters are written as one atomic batch; configuration values are
written one by one. Keys with no local value are skipped. Failures are
counted, not retried.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		if !a.engine.RemoteEnabled() {
			fmt.Fprintf(os.Stderr, "%s No remote configured; nothing to push\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Fprintf(os.Stderr, "%s Pushing to %s...\n", ui.RenderAccent("🔄"), cfg.Remote.Driver)
		start := time.Now()
		result := a.service.PushAllToRemote(cmd.Context())

		printResult(cmd, result, func(out io.Writer) {
			marker := ui.RenderPass("✓")
			if result.Errors > 0 {
				marker = ui.RenderWarn("⚠")
			}
			fmt.Fprintf(out, "%s Push complete in %v\n", marker, time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "   Synced: %d\n", result.Synced)
			fmt.Fprintf(out, "   Errors: %d\n", result.Errors)
		})
		if result.Errors > 0 {
			os.Exit(1)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import [dir]",
	GroupID: "sync",
	Short:   "Import every roster file in a directory once",
	Long: `Import {group}.json and {group}.toml files from a directory (default:
import.dir) and save each as that group's roster. Files that fail to parse
are reported and skipped.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		w, err := newImporter(a, importDir(args))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := w.ImportAll(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d roster files from %s\n", ui.RenderPass("✓"), n, importDir(args))
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch [dir]",
	GroupID: "sync",
	Short:   "Import roster files as they are written to a directory",
	Long: `Import every roster file in a directory, then keep watching it and import
files as they are created or rewritten. Rapid writes to the same file are
debounced (import.debounce). Deleting a file does not delete the roster.

Press Ctrl+C to stop.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := importDir(args)
		a := mustOpenApp()
		defer a.Close()

		w, err := newImporter(a, dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)

		fmt.Printf("%s Watching %s for roster files...\n", ui.RenderAccent("👀"), dir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		g.Go(func() error { return w.Run(ctx) })
		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Watcher stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func importDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Import.Dir
}

func newImporter(a *app, dir string) (*importer.Watcher, error) {
	return importer.New(dir, a.service, &importer.Config{
		DebounceInterval: cfg.Import.Debounce,
		Groups:           cfg.Groups,
		Logger:           config.Logger(a.logOut, "[import] "),
		OnImport: func(group string, athletes int, w *sync.Write) {
			fmt.Printf("%s %s: %d athletes\n", ui.RenderPass("✓"), ui.RenderGroup(group), athletes)
		},
	})
}

// statusReport is the machine-readable form of the status command.
type statusReport struct {
	Org       string         `json:"org" yaml:"org"`
	Local     string         `json:"local" yaml:"local"`
	LocalKeys int            `json:"localKeys" yaml:"localKeys"`
	Remote    string         `json:"remote" yaml:"remote"`
	Reachable *bool          `json:"reachable,omitempty" yaml:"reachable,omitempty"`
	Rosters   map[string]int `json:"rosters" yaml:"rosters"`
	Config    []string       `json:"config" yaml:"config"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show what this device holds and whether the remote is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		report := statusReport{
			Org:     cfg.Org,
			Local:   cfg.Local.Driver,
			Remote:  cfg.Remote.Driver,
			Rosters: make(map[string]int),
			Config:  []string{},
		}
		if s, ok := a.store.(*local.SQLiteStore); ok {
			report.Local = fmt.Sprintf("sqlite %s", s.Path())
		}
		if keys, err := a.store.Keys(); err == nil {
			report.LocalKeys = len(keys)
		}
		// Read the local store directly; status must not trigger backfills.
		for _, g := range a.service.Groups() {
			if athletes, ok := local.Load[[]roster.Athlete](a.store, roster.RosterBinding(g).Key); ok {
				report.Rosters[g] = len(athletes)
			}
		}
		for _, n := range a.service.ConfigNames() {
			if _, ok := a.store.Get(roster.ConfigBinding(n).Key); ok {
				report.Config = append(report.Config, n)
			}
		}
		if a.backend != nil {
			reachable := probeRemote(cmd.Context(), a.backend)
			report.Reachable = &reachable
		}

		printResult(cmd, report, func(out io.Writer) { printStatus(out, a, report) })
	},
}

// probeRemote reports whether the remote answers a read.
func probeRemote(ctx context.Context, backend remote.Backend) bool {
	path, err := remote.Join(cfg.Org, roster.ConfigBinding("pin").Path)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Remote.Timeout)
	defer cancel()
	_, err = backend.Get(ctx, path)
	return err == nil
}

func printStatus(out io.Writer, a *app, report statusReport) {
	fmt.Fprintf(out, "\n%s Roster Sync Status\n\n", ui.RenderAccent("📊"))

	remoteDesc := report.Remote
	switch {
	case report.Reachable == nil:
		remoteDesc = ui.RenderMuted("none (local only)")
	case *report.Reachable:
		remoteDesc = fmt.Sprintf("%s %s", report.Remote, ui.RenderPass("reachable"))
	default:
		remoteDesc = fmt.Sprintf("%s %s", report.Remote, ui.RenderFail("unreachable"))
	}
	rows := []ui.Row{
		{Key: "Org", Value: report.Org},
		{Key: "Local", Value: report.Local},
		{Key: "Keys", Value: fmt.Sprintf("%d", report.LocalKeys)},
		{Key: "Remote", Value: remoteDesc},
	}
	if s, ok := a.store.(*local.SQLiteStore); ok {
		if stats, err := s.Stats(); err == nil && !stats.UpdatedAt.IsZero() {
			rows = append(rows, ui.Row{Key: "Modified", Value: stats.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
		}
	}
	ui.WriteRows(out, rows)

	fmt.Fprintf(out, "\nRosters:\n")
	for _, g := range a.service.Groups() {
		if n, ok := report.Rosters[g]; ok {
			fmt.Fprintf(out, "   %s %d athletes\n", ui.RenderGroup(fmt.Sprintf("%-10s", g)), n)
		} else {
			fmt.Fprintf(out, "   %s %s\n", ui.RenderGroup(fmt.Sprintf("%-10s", g)), ui.RenderMuted("(none)"))
		}
	}
	fmt.Fprintf(out, "\nConfig set: %d of %d\n\n", len(report.Config), len(a.service.ConfigNames()))
}

func init() {
	rootCmd.AddCommand(pushCmd, importCmd, watchCmd, statusCmd)
}
