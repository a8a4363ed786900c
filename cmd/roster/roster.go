package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/ui"
)

var rosterCmd = &cobra.Command{
	Use:     "roster",
	GroupID: "data",
	Short:   "Load, save and follow group rosters",
}

var rosterLoadCmd = &cobra.Command{
	Use:   "load <group>",
	Short: "Show a group's roster",
	Long: `Show a group's roster.

The local copy is used when there is one; it is also copied to the remote
store if no remote roster exists yet. Without a local copy the remote roster
is fetched and cached locally.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		a := mustOpenApp()
		defer a.Close()

		athletes, ok := a.service.LoadRoster(cmd.Context(), group)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No roster for %s\n", ui.RenderWarn("⚠"), group)
			return
		}
		printResult(cmd, roster.File{Group: group, Athletes: athletes}, func(out io.Writer) {
			printAthletes(out, group, athletes)
		})
	},
}

var rosterSaveCmd = &cobra.Command{
	Use:   "save <group> --file <roster.json|roster.toml>",
	Short: "Replace a group's roster from a file",
	Long: `Replace a group's roster with the athletes in a roster file.

The file may be a JSON array of athletes, a JSON {"athletes": [...]} object or
a TOML file with [[athletes]] tables. The roster is saved locally and then
written to the remote store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			fmt.Fprintf(os.Stderr, "Error: --file is required\n")
			os.Exit(1)
		}
		f, err := roster.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for i := range f.Athletes {
			f.Athletes[i].Group = group
		}

		a := mustOpenApp()
		defer a.Close()
		w := a.service.SaveRoster(cmd.Context(), group, f.Athletes)
		reportWrite(cmd, fmt.Sprintf("%s roster (%d athletes)", group, len(f.Athletes)), w)
	},
}

var rosterExportCmd = &cobra.Command{
	Use:   "export <group>",
	Short: "Write a group's roster to {dir}/{group}.json",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		dir, _ := cmd.Flags().GetString("dir")
		a := mustOpenApp()
		defer a.Close()

		athletes, ok := a.service.LoadRoster(cmd.Context(), group)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: no roster for %s\n", group)
			os.Exit(1)
		}
		path, err := roster.WriteFile(dir, &roster.File{Group: group, Athletes: athletes})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d athletes to %s\n", ui.RenderPass("✓"), len(athletes), path)
	},
}

var rosterListenCmd = &cobra.Command{
	Use:   "listen <group>",
	Short: "Follow remote changes to a group's roster",
	Long: `Print the group's roster every time it changes on the remote store.

Each update is also written to the local store. Requires a remote driver.
Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		a := mustOpenApp()
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		l := a.service.ListenRoster(ctx, group, func(athletes []roster.Athlete) {
			printResult(cmd, roster.File{Group: group, Athletes: athletes}, func(out io.Writer) {
				printAthletes(out, group, athletes)
			})
		})
		if l == nil {
			fmt.Fprintf(os.Stderr, "Error: listening requires a remote (set remote.driver)\n")
			os.Exit(1)
		}
		defer l.Cancel()

		fmt.Fprintf(os.Stderr, "%s Listening for %s roster changes (Ctrl+C to stop)\n", ui.RenderAccent("👂"), group)
		<-ctx.Done()
	},
}

func printAthletes(out io.Writer, group string, athletes []roster.Athlete) {
	fmt.Fprintf(out, "\n%s %s roster (%d athletes)\n\n", ui.RenderAccent("🏅"), ui.RenderGroup(group), len(athletes))
	if len(athletes) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tXP\tSTREAK\tLEVEL\tLAST CHECK-IN")
	for _, a := range athletes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", a.ID, ui.Truncate(a.Name, 32), a.XP, a.Streak, a.Level, a.LastCheckIn)
	}
	tw.Flush()
	fmt.Fprintln(out)
}

func init() {
	rosterSaveCmd.Flags().StringP("file", "f", "", "Roster file (.json or .toml)")
	rosterExportCmd.Flags().String("dir", ".", "Directory to write the roster file to")

	rosterCmd.AddCommand(rosterLoadCmd, rosterSaveCmd, rosterExportCmd, rosterListenCmd)
	rootCmd.AddCommand(rosterCmd)
}
