package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/ui"
)

var (
	// cfg is resolved before every command runs.
	cfg *config.Config

	configFile   string
	outputFormat string
)

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"org":        "org",
	"local":      "local.driver",
	"local-path": "local.path",
	"remote":     "remote.driver",
	"remote-url": "remote.url",
	"log-file":   "log.file",
}

var rootCmd = &cobra.Command{
	Use:   "roster",
	Short: "Roster sync: local-first athlete rosters shared across devices",
	Long: `roster keeps athlete rosters, schedules and coach configuration on each
device and mirrors them to a shared document store.

Every write lands in the local store first and is then sent to the remote
store in the background. Reads are served locally; a record missing locally
is fetched from the remote store once and cached.

Configuration comes from roster.yaml (or --config), ROSTER_* environment
variables and the flags below.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		v := config.New()
		for flag, key := range flagKeys {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		loaded, err := config.Load(v, configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded

		switch outputFormat {
		case "text":
		case "json", "yaml":
			ui.DisableColor()
		default:
			fmt.Fprintf(os.Stderr, "Error: --output must be 'text', 'json' or 'yaml'\n")
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "server", Title: "Server Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default: ./roster.yaml or ~/.config/roster/roster.yaml)")
	flags.StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json or yaml")
	flags.String("org", "", "Organization the remote documents belong to")
	flags.String("local", "", "Local store driver: sqlite or memory")
	flags.String("local-path", "", "Local SQLite store path")
	flags.String("remote", "", "Remote driver: none, http or redis")
	flags.String("remote-url", "", "Document server URL for the http remote driver")
	flags.String("log-file", "", "Write logs to this file (rotated) instead of stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
