package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	var id int64
	var source string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove indexed chunks by id or source",
		Long: `Delete removes chunks and rebuilds the index from the kept texts.
Exactly one of --id or --source must be given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasID := cmd.Flags().Changed("id")
			if hasID == (source != "") {
				return fmt.Errorf("provide exactly one of --id or --source")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			idx, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			var removed int
			if hasID {
				removed, err = idx.RemoveByIDs(cmd.Context(), []int64{id})
			} else {
				removed, err = idx.RemoveBySource(cmd.Context(), source)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Removed %d chunks (%d remaining)\n", removed, idx.Count())
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Chunk id to remove")
	cmd.Flags().StringVar(&source, "source", "", "Remove every chunk from this source")
	return cmd
}
