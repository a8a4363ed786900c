package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "data",
	Short:   "Read and write shared coach configuration (pin, culture, challenges, coaches)",
}

var configGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		a := mustOpenApp()
		defer a.Close()

		v, ok := roster.LoadConfig[any](cmd.Context(), a.service, name)
		if !ok {
			fmt.Fprintf(os.Stderr, "%s No value for %s\n", ui.RenderWarn("⚠"), name)
			return
		}
		printResult(cmd, v, func(out io.Writer) { printConfigValue(out, name, v) })
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <name> [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Values that parse as JSON are stored as JSON
(objects, arrays, numbers); anything else is stored as a string.

Without a value, "config set pin" prompts for the PIN with hidden input.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		var text string
		switch {
		case len(args) == 2:
			text = args[1]
		case name == "pin":
			pin, err := promptPin()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			text = pin
		default:
			fmt.Fprintf(os.Stderr, "Error: a value is required for %s\n", name)
			os.Exit(1)
		}
		if name == "pin" {
			if err := validatePin(text); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		a := mustOpenApp()
		defer a.Close()
		w := roster.SaveConfig(cmd.Context(), a.service, name, parseValue(name, text))
		reportWrite(cmd, "config "+name, w)
	},
}

var configListenCmd = &cobra.Command{
	Use:   "listen <name>",
	Short: "Follow remote changes to a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		a := mustOpenApp()
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		l := roster.ListenConfig(ctx, a.service, name, func(v any) {
			printResult(cmd, v, func(out io.Writer) { printConfigValue(out, name, v) })
		})
		if l == nil {
			fmt.Fprintf(os.Stderr, "Error: listening requires a remote (set remote.driver)\n")
			os.Exit(1)
		}
		defer l.Cancel()

		fmt.Fprintf(os.Stderr, "%s Listening for %s changes (Ctrl+C to stop)\n", ui.RenderAccent("👂"), name)
		<-ctx.Done()
	},
}

// parseValue decodes text as JSON when it is valid JSON. The pin is always a
// string so leading zeros survive.
func parseValue(name, text string) any {
	if name == "pin" || !json.Valid([]byte(text)) {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}

func validatePin(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return fmt.Errorf("pin must be 4 to 8 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("pin must contain only digits")
		}
	}
	return nil
}

func promptPin() (string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return "", fmt.Errorf("pin value required (stdin is not a terminal)")
	}
	var pin string
	err := huh.NewInput().
		Title("Kiosk PIN").
		Description("4 to 8 digits, shared with every device in the organization").
		EchoMode(huh.EchoModePassword).
		Validate(validatePin).
		Value(&pin).
		Run()
	if err != nil {
		return "", fmt.Errorf("pin prompt cancelled: %w", err)
	}
	return pin, nil
}

func printConfigValue(out io.Writer, name string, v any) {
	if name == "pin" {
		fmt.Fprintf(out, "%s: %s\n", name, ui.RenderMuted("(set, hidden)"))
		return
	}
	if s, ok := v.(string); ok {
		fmt.Fprintf(out, "%s: %s\n", name, s)
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "%s: %v\n", name, v)
		return
	}
	fmt.Fprintf(out, "%s: %s\n", name, data)
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListenCmd)
	rootCmd.AddCommand(configCmd)
}
