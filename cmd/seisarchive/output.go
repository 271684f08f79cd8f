package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel colors a run state for terminals.
func stateLabel(state string, colorize bool) string {
	if !colorize {
		return state
	}
	switch state {
	case "ok":
		return text.FgGreen.Sprint(state)
	case "error":
		return text.FgRed.Sprint(state)
	default:
		return state
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
