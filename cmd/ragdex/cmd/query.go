package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var k int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			idx, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			results := idx.Query(cmd.Context(), args[0], k)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for i, res := range results {
				fmt.Printf("%d. [%.4f] %s (chunk %d)\n   %s\n",
					i+1, res.Score, res.Record.Source, res.Record.ChunkIdx,
					truncate(res.Record.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default: config max_k)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
