// Command weatherctl inspects and operates the village weather service.
//
// Usage:
//
//	weatherctl bounds --at 2024-03-15T12:00:00Z
//	weatherctl current rudania
//	weatherctl schedule inariko "Flood"
//	weatherctl tables validate --file tables.yaml
//	weatherctl simulate vhintl --days 30 --seed 7
package main

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "weatherctl",
		Short:        "Inspect and operate village weather",
		SilenceUsage: true,
	}
	root.AddCommand(
		boundsCommand(),
		currentCommand(),
		scheduleCommand(),
		tablesCommand(),
		simulateCommand(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
