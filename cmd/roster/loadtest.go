package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/loadtest"
	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "server",
	Short:   "Simulate many devices saving rosters through one remote store",
	Long: `Run a fleet of simulated devices that save rosters concurrently while an
observer device listens to every group.

Reports how long saves take to be acknowledged by the remote store and how
long they take to reach the observer. The store is a throwaway one unless
--target is used.

Stores:
  memory  - in-process store (default)
  sqlite  - SQLite document store in a temporary directory
  remote  - the configured remote (remote.driver http or redis)

Examples:
  # 20 devices, 10 saves each, in-process
  roster loadtest --devices 20 --writes 10

  # Against a running document server
  roster loadtest --target remote --remote http --remote-url http://localhost:8420`,
	Run: func(cmd *cobra.Command, args []string) {
		devices, _ := cmd.Flags().GetInt("devices")
		writes, _ := cmd.Flags().GetInt("writes")
		target, _ := cmd.Flags().GetString("target")

		if devices <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --devices must be positive\n")
			os.Exit(1)
		}
		if writes <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --writes must be positive\n")
			os.Exit(1)
		}

		logOut := cfg.LogWriter()
		backend, cleanup, err := openLoadtestTarget(target, logOut)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		fleet, err := loadtest.NewFleet(backend, loadtest.Options{
			Devices:         devices,
			WritesPerDevice: writes,
			Groups:          cfg.Groups,
			Org:             cfg.Org,
			Logger:          config.Logger(logOut, "[loadtest] "),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "%s Running %d devices x %d saves against %s...\n", ui.RenderAccent("🔄"), devices, writes, target)
		report, err := fleet.Run(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = fleet.Drain(dctx)

		printResult(cmd, report, func(out io.Writer) {
			marker := ui.RenderPass("✓")
			if report.Failed > 0 || !report.Converged() {
				marker = ui.RenderWarn("⚠")
			}
			fmt.Fprintf(out, "\n%s Load test complete in %v\n", marker, report.Elapsed)
			fmt.Fprintf(out, "   Failed saves: %d\n", report.Failed)
			fmt.Fprintf(out, "   Not observed: %d\n\n", report.Missed)
			report.Writes.Print(out, "Save acknowledged")
			fmt.Fprintln(out)
			report.Propagation.Print(out, "Reached observer")
		})
		if report.Failed > 0 || !report.Converged() {
			os.Exit(1)
		}
	},
}

// openLoadtestTarget returns the store a load test runs against and a
// function releasing it.
func openLoadtestTarget(target string, logOut io.Writer) (remote.Backend, func(), error) {
	switch target {
	case "memory":
		b := remote.NewMemoryBackend()
		return b, func() { b.Close() }, nil
	case "sqlite":
		dir, err := os.MkdirTemp("", "roster-loadtest-")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		b, err := remote.OpenSQL(filepath.Join(dir, "documents.db"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return b, func() {
			b.Close()
			os.RemoveAll(dir)
		}, nil
	case "remote":
		if !cfg.RemoteEnabled() {
			return nil, nil, fmt.Errorf("--target remote needs remote.driver set to http or redis")
		}
		b, err := openRemote(cfg, logOut)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("--target must be 'memory', 'sqlite' or 'remote'")
	}
}

func init() {
	loadtestCmd.Flags().Int("devices", 10, "Number of concurrent devices to simulate")
	loadtestCmd.Flags().Int("writes", 10, "Number of roster saves per device")
	loadtestCmd.Flags().String("target", "memory", "Store to run against: memory, sqlite or remote")
	rootCmd.AddCommand(loadtestCmd)
}
