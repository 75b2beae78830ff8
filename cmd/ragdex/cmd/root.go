// Package cmd provides the CLI commands for ragdex.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ragdex/ragdex/internal/config"
	"github.com/ragdex/ragdex/internal/embed"
	"github.com/ragdex/ragdex/internal/index"
	"github.com/ragdex/ragdex/internal/logging"
	"github.com/ragdex/ragdex/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragdex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragdex",
		Short: "Local retrieval index for document question answering",
		Long: `ragdex stores text fragments as vector embeddings and returns the
fragments nearest to a query. It embeds with a local Ollama model when one is
reachable and falls back to a corpus-local TF-IDF vectorizer otherwise.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragdex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to ragdex.yaml (default: search upward)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig resolves the config file (explicit flag or upward search).
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindConfig(".")
	}
	return config.Load(path)
}

// openIndex builds the embedder and opens the index per configuration.
func openIndex(ctx context.Context, cfg *config.Config) (*index.Index, error) {
	embedder, mode, err := embed.NewEmbedder(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(ctx, index.Options{
		DataDir:  cfg.DataDir,
		Backend:  cfg.Index.Backend,
		MaxK:     cfg.Index.MaxK,
		Embedder: embedder,
		Mode:     mode,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	slog.Debug("index_opened",
		slog.String("data_dir", cfg.DataDir),
		slog.String("mode", string(mode)),
		slog.Int("count", idx.Count()))
	return idx, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
