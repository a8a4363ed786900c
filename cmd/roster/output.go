package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
	"github.com/rosterhq/rostersync/internal/ui"
)

// printResult writes v in the selected --output format. text renders the
// human form.
func printResult(cmd *cobra.Command, v any, text func(w io.Writer)) {
	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		enc.Close()
	default:
		text(out)
	}
}

// writeReport is the machine-readable form of a save.
type writeReport struct {
	Key    string `json:"key" yaml:"key"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// reportWrite waits for w (bounded by the remote timeout) and prints how far
// the value got. A failed local write exits with status 1.
func reportWrite(cmd *cobra.Command, what string, w *sync.Write) {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout+time.Second)
	defer cancel()
	o := w.Wait(ctx)

	report := writeReport{Key: w.Binding().Key, Path: w.Binding().Path, Status: o.Status.String()}
	if o.Err != nil {
		report.Error = o.Err.Error()
	}
	localFailed := o.Status == sync.StatusFailed && !errors.Is(o.Err, sync.ErrRemoteWrite)

	printResult(cmd, report, func(out io.Writer) {
		switch {
		case localFailed:
			fmt.Fprintf(out, "%s Failed to save %s: %v\n", ui.RenderFail("✗"), what, o.Err)
		case o.Status == sync.StatusFailed:
			fmt.Fprintf(out, "%s Saved %s locally; remote write failed\n", ui.RenderWarn("⚠"), what)
		case o.Status == sync.StatusDeferred:
			fmt.Fprintf(out, "%s Saved %s locally; remote write still pending\n", ui.RenderWarn("⚠"), what)
		case o.Status == sync.StatusWritten:
			fmt.Fprintf(out, "%s Saved %s %s\n", ui.RenderPass("✓"), what, ui.RenderMuted("(synced)"))
		default:
			fmt.Fprintf(out, "%s Saved %s %s\n", ui.RenderPass("✓"), what, ui.RenderMuted("(local only)"))
		}
	})
	if localFailed {
		os.Exit(1)
	}
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate turns a --date value into YYYY-MM-DD. Besides the literal form
// it accepts phrases like "yesterday" or "last friday". Empty means today.
func parseDate(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return now.Format(roster.DateLayout), nil
	}
	if t, err := time.Parse(roster.DateLayout, text); err == nil {
		return t.Format(roster.DateLayout), nil
	}
	r, err := dateParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("cannot understand date %q (use YYYY-MM-DD)", text)
	}
	return r.Time.Format(roster.DateLayout), nil
}

// mustDate resolves the --date flag of cmd or exits. Date keys are UTC
// days, matching the timestamps the service stamps entries with.
func mustDate(cmd *cobra.Command) string {
	text, _ := cmd.Flags().GetString("date")
	date, err := parseDate(text, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return date
}
