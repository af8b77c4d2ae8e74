package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/lattice/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins validate <manifest.json>...",
	Short: "Validate plugin manifests",
}

var pluginsValidateCmd = &cobra.Command{
	Use:   "validate <manifest.json>...",
	Short: "Validate one or more plugin manifests",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("%s: unreadable: %v\n", path, err)
				failed++
				continue
			}
			m, err := plugin.ParseManifest(data)
			if err != nil {
				fmt.Printf("%s: invalid: %v\n", path, err)
				failed++
				continue
			}
			fmt.Printf("%s: ok (%s v%s, %d permissions, %d commands, %d panels)\n",
				path, m.ID, m.Version, len(m.Permissions), len(m.Commands), len(m.Panels))
		}
		if failed > 0 {
			return fmt.Errorf("%d manifest(s) failed validation", failed)
		}
		return nil
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsValidateCmd)
	rootCmd.AddCommand(pluginsCmd)
}
