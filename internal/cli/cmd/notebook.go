package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/lattice/internal/notebook"
)

var notebookWrite bool

var notebookCmd = &cobra.Command{
	Use:   "notebook <file.ipynb>",
	Short: "Inspect or normalise a notebook document",
	Long: `Parses an .ipynb file, prints a cell summary, and with --write
re-serialises it in canonical form (source arrays with per-line
newlines).`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		nb, err := notebook.ParseNotebook(data)
		if err != nil {
			return err
		}

		fmt.Printf("nbformat %d.%d, %d cells\n", nb.NBFormat, nb.NBFormatMinor, len(nb.Cells))
		for i, cell := range nb.Cells {
			count := "-"
			if cell.ExecutionCount != nil {
				count = fmt.Sprintf("%d", *cell.ExecutionCount)
			}
			fmt.Printf("  [%d] %-8s id=%s exec=%s outputs=%d\n",
				i, cell.Type, cell.ID, count, len(cell.Outputs))
		}

		if notebookWrite {
			out, err := notebook.SerializeNotebook(nb)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], out, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			fmt.Printf("normalised %s\n", args[0])
		}
		return nil
	},
}

func init() {
	notebookCmd.Flags().BoolVar(&notebookWrite, "write", false, "re-serialise the notebook in place")
	rootCmd.AddCommand(notebookCmd)
}
