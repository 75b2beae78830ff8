package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status",
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

			fmt.Printf("Data directory: %s\n", cfg.DataDir)
			fmt.Printf("Mode:           %s\n", idx.Mode())
			fmt.Printf("Model:          %s\n", idx.ModelName())
			fmt.Printf("Backend:        %s\n", cfg.Index.Backend)
			fmt.Printf("Chunks:         %d\n", idx.Count())
			fmt.Printf("Dimensions:     %d\n", idx.Dimensions())
			return nil
		},
	}
}
