package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/ui"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	GroupID: "data",
	Short:   "Manage weekly training schedules",
}

var scheduleSaveCmd = &cobra.Command{
	Use:   "save <group> --file <schedule.yaml>",
	Short: "Replace a group's schedule from a YAML or JSON file",
	Long: `Replace a group's weekly schedule.

Example file:

  sessions:
    - day: monday
      start: "17:00"
      end: "18:30"
      location: Pool A`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			fmt.Fprintf(os.Stderr, "Error: --file is required\n")
			os.Exit(1)
		}
		schedule, err := readSchedule(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		w := a.service.SaveSchedule(cmd.Context(), group, schedule)
		reportWrite(cmd, fmt.Sprintf("%s schedule (%d sessions)", group, len(schedule.Sessions)), w)
	},
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <group>",
	Short: "Show a group's schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		group := args[0]
		a := mustOpenApp()
		defer a.Close()

		schedule, ok := a.service.LoadSchedule(cmd.Context(), group)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No schedule for %s\n", ui.RenderWarn("⚠"), group)
			return
		}
		printResult(cmd, schedule, func(out io.Writer) {
			fmt.Fprintf(out, "\n%s %s schedule\n\n", ui.RenderAccent("📅"), ui.RenderGroup(group))
			for _, s := range schedule.Sessions {
				fmt.Fprintf(out, "   %-9s %s-%s  %s\n", s.Day, s.Start, s.End, s.Location)
			}
			fmt.Fprintln(out)
		})
	},
}

// readSchedule decodes a schedule file. YAML is a superset of JSON, so both
// formats go through the YAML decoder.
func readSchedule(path string) (roster.Schedule, error) {
	var schedule roster.Schedule
	data, err := os.ReadFile(path)
	if err != nil {
		return schedule, fmt.Errorf("failed to read schedule file: %w", err)
	}
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return schedule, fmt.Errorf("failed to parse schedule file %s: %w", path, err)
	}
	for i, s := range schedule.Sessions {
		if s.Day == "" || s.Start == "" {
			return schedule, fmt.Errorf("session %d: day and start are required", i+1)
		}
		schedule.Sessions[i].Day = strings.ToLower(s.Day)
	}
	return schedule, nil
}

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "data",
	Short:   "Record and review coach actions",
}

var auditAddCmd = &cobra.Command{
	Use:   "add --actor <coach> --action <action>",
	Short: "Append an entry to today's audit log",
	Run: func(cmd *cobra.Command, args []string) {
		actor, _ := cmd.Flags().GetString("actor")
		action, _ := cmd.Flags().GetString("action")
		athlete, _ := cmd.Flags().GetString("athlete")
		detail, _ := cmd.Flags().GetString("detail")
		if actor == "" || action == "" {
			fmt.Fprintf(os.Stderr, "Error: --actor and --action are required\n")
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()
		w := a.service.AppendAudit(cmd.Context(), roster.AuditEntry{
			Actor:     actor,
			Action:    action,
			AthleteID: athlete,
			Detail:    detail,
		})
		reportWrite(cmd, "audit entry", w)
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the audit log of a day",
	Run: func(cmd *cobra.Command, args []string) {
		date := mustDate(cmd)
		a := mustOpenApp()
		defer a.Close()

		entries, ok := a.service.LoadAudit(cmd.Context(), date)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No audit log for %s\n", ui.RenderWarn("⚠"), date)
			return
		}
		printResult(cmd, entries, func(out io.Writer) {
			fmt.Fprintf(out, "\n%s Audit log %s (%d entries)\n\n", ui.RenderAccent("📋"), date, len(entries))
			for _, e := range entries {
				line := fmt.Sprintf("%s  %s  %s", e.Time.Local().Format("15:04:05"), e.Actor, e.Action)
				if e.AthleteID != "" {
					line += " " + e.AthleteID
				}
				if e.Detail != "" {
					line += ui.RenderMuted(" - " + e.Detail)
				}
				fmt.Fprintf(out, "   %s\n", line)
			}
			fmt.Fprintln(out)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	GroupID: "data",
	Short:   "Daily summaries of every group",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Summarize the current rosters into a daily snapshot",
	Long: `Summarize every configured group (athletes, total XP, check-ins on the
date) and save it as the snapshot for that date.

The date defaults to today and accepts phrases like "yesterday".`,
	Run: func(cmd *cobra.Command, args []string) {
		date := mustDate(cmd)
		a := mustOpenApp()
		defer a.Close()

		snap, w := a.service.TakeSnapshot(cmd.Context(), date)
		reportWrite(cmd, "snapshot "+date, w)
		if outputFormat == "text" {
			printSnapshot(cmd.OutOrStdout(), snap)
		}
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the snapshot of a day",
	Run: func(cmd *cobra.Command, args []string) {
		date := mustDate(cmd)
		a := mustOpenApp()
		defer a.Close()

		snap, ok := a.service.LoadSnapshot(cmd.Context(), date)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No snapshot for %s\n", ui.RenderWarn("⚠"), date)
			return
		}
		printResult(cmd, snap, func(out io.Writer) { printSnapshot(out, snap) })
	},
}

func printSnapshot(out io.Writer, snap roster.DailySnapshot) {
	groups := make([]string, 0, len(snap.Groups))
	for g := range snap.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	fmt.Fprintf(out, "\n%s Snapshot %s\n\n", ui.RenderAccent("📊"), snap.Date)
	for _, g := range groups {
		s := snap.Groups[g]
		fmt.Fprintf(out, "   %s %3d athletes  %6d XP  %3d check-ins\n", ui.RenderGroup(fmt.Sprintf("%-10s", g)), s.Athletes, s.TotalXP, s.CheckIns)
	}
	fmt.Fprintln(out)
}

var feedbackCmd = &cobra.Command{
	Use:     "feedback",
	GroupID: "data",
	Short:   "Notes for athletes",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add <athlete-id> --author <coach> --message <text>",
	Short: "Leave feedback for an athlete",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		author, _ := cmd.Flags().GetString("author")
		message, _ := cmd.Flags().GetString("message")

		a := mustOpenApp()
		defer a.Close()
		entry, w := a.service.AddFeedback(cmd.Context(), args[0], author, message)
		reportWrite(cmd, fmt.Sprintf("feedback %s for %s", entry.ID, args[0]), w)
	},
}

var feedbackShowCmd = &cobra.Command{
	Use:   "show <athlete-id>",
	Short: "Show an athlete's feedback",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		entries, ok := a.service.LoadFeedback(cmd.Context(), args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No feedback for %s\n", ui.RenderWarn("⚠"), args[0])
			return
		}
		printResult(cmd, entries, func(out io.Writer) {
			fmt.Fprintf(out, "\n%s Feedback for %s (%d)\n\n", ui.RenderAccent("💬"), args[0], len(entries))
			for _, e := range entries {
				fmt.Fprintf(out, "   %s %s\n     %s\n", e.CreatedAt.Local().Format(time.DateTime), ui.RenderBold(e.Author), e.Message)
			}
			fmt.Fprintln(out)
		})
	},
}

func init() {
	scheduleSaveCmd.Flags().StringP("file", "f", "", "Schedule file (.yaml or .json)")
	scheduleCmd.AddCommand(scheduleSaveCmd, scheduleShowCmd)

	auditAddCmd.Flags().String("actor", "", "Coach making the change")
	auditAddCmd.Flags().String("action", "", "What was done, e.g. checkin or award-badge")
	auditAddCmd.Flags().String("athlete", "", "Athlete id the action applies to")
	auditAddCmd.Flags().String("detail", "", "Free-form detail")
	auditShowCmd.Flags().String("date", "", "Day to show (default: today)")
	auditCmd.AddCommand(auditAddCmd, auditShowCmd)

	snapshotSaveCmd.Flags().String("date", "", "Day to summarize (default: today)")
	snapshotShowCmd.Flags().String("date", "", "Day to show (default: today)")
	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotShowCmd)

	feedbackAddCmd.Flags().String("author", "", "Coach leaving the feedback")
	feedbackAddCmd.Flags().StringP("message", "m", "", "Feedback text")
	feedbackCmd.AddCommand(feedbackAddCmd, feedbackShowCmd)

	rootCmd.AddCommand(scheduleCmd, auditCmd, snapshotCmd, feedbackCmd)
}
