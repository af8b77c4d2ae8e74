package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/lattice/internal/markdown"
)

var parseCursor int

var parseCmd = &cobra.Command{
	Use:   "parse <file.md>",
	Short: "Dump the parsed elements and decorations of a markdown file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		engine := markdown.NewEngine(4096)
		engine.Attach(args[0])
		engine.SetBuffer(string(data))

		out := struct {
			Elements    []markdown.Element    `json:"elements"`
			Decorations []markdown.Decoration `json:"decorations"`
		}{
			Elements:    engine.Elements(),
			Decorations: engine.RevealMask(parseCursor),
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	},
}

func init() {
	parseCmd.Flags().IntVar(&parseCursor, "cursor", -1, "cursor offset for the reveal mask (-1 for none)")
	rootCmd.AddCommand(parseCmd)
}
