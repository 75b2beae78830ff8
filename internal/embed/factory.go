package embed

import (
	"context"
	"log/slog"

	"github.com/ragdex/ragdex/internal/config"
)

// NewEmbedder selects the embedding strategy from configuration.
//
// Dense mode is chosen when fast mode is off and Ollama answers the health
// check with a usable embedding model; otherwise the corpus-local lexical
// vectorizer is used. The returned Mode records the choice so the caller can
// apply it symmetrically at ingest and query time.
//
// Dense embedders are wrapped with the query LRU cache when CacheSize > 0.
// The lexical embedder is never cached: a re-fit changes what any given text
// embeds to, which would serve stale vectors.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, Mode, error) {
	if !cfg.FastMode {
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout,
		})
		if err == nil {
			slog.Info("embedder_selected",
				slog.String("mode", string(ModeDense)),
				slog.String("model", ollama.ModelName()),
				slog.Int("dimensions", ollama.Dimensions()))

			var embedder Embedder = ollama
			if cfg.CacheSize > 0 {
				embedder = NewCachedEmbedder(ollama, cfg.CacheSize)
			}
			return embedder, ModeDense, nil
		}

		slog.Warn("dense_embedder_unavailable_falling_back_to_lexical",
			slog.String("host", cfg.OllamaHost),
			slog.String("error", err.Error()))
	} else {
		slog.Info("fast_mode_enabled_using_lexical_embedder")
	}

	return NewLexicalEmbedder(), ModeSparse, nil
}
