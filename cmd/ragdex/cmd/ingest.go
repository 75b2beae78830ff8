package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ragdex/ragdex/internal/chunk"
	"github.com/ragdex/ragdex/internal/extract"
)

func newIngestCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "ingest <glob>...",
		Short: "Extract, chunk, and index documents",
		Long: `Ingest indexes the files matching the given glob patterns (doublestar
syntax, e.g. 'docs/**/*.pdf'). PDF files are text-extracted; everything else
is treated as plain text. Each file is split into overlapping word windows
before indexing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			files, err := expandGlobs(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files match the given patterns")
			}

			// Extract and chunk concurrently; indexing itself is a single
			// call so sparse mode refits the vocabulary once.
			chunker := chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
			extractor := extract.NewExtractor()
			bar := progressbar.Default(int64(len(files)), "extracting")

			type fileChunks struct {
				path   string
				chunks []string
			}
			results := make([]fileChunks, len(files))

			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			var mu sync.Mutex
			for i, path := range files {
				i, path := i, path
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					text, err := extractor.Extract(path)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					mu.Lock()
					results[i] = fileChunks{path: path, chunks: chunker.Split(text)}
					_ = bar.Add(1)
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			var texts []string
			var metas []map[string]string
			for _, fc := range results {
				for i, c := range fc.chunks {
					texts = append(texts, c)
					metas = append(metas, map[string]string{
						"source": fc.path,
						"chunk":  strconv.Itoa(i),
					})
				}
			}
			if len(texts) == 0 {
				return fmt.Errorf("no extractable text in matched files")
			}

			idx, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()

			n, err := idx.Ingest(cmd.Context(), texts, metas)
			if err != nil {
				return err
			}

			fmt.Printf("Indexed %d chunks from %d files (%d total)\n",
				n, len(files), idx.Count())
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Concurrent file extractions")
	return cmd
}

// expandGlobs resolves doublestar patterns to a sorted, deduplicated file list.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
