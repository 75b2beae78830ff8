package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var limit int
	var grouped bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			idx, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			if grouped {
				groups, err := idx.GroupedBySource()
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Printf("%6d  %s\n", g.Count, g.Source)
				}
				fmt.Printf("%d sources, %d chunks\n", len(groups), idx.Count())
				return nil
			}

			records, err := idx.Metas(limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Printf("%4d  %s#%d  %s\n",
					rec.ID, rec.Source, rec.ChunkIdx, truncate(rec.Text, 80))
			}
			fmt.Printf("%d of %d chunks\n", len(records), idx.Count())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum chunks to list (0 = all)")
	cmd.Flags().BoolVar(&grouped, "grouped", false, "Group by source document")
	return cmd
}
