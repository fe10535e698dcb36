package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/indexer"
)

func (a *app) buildCmd() *cobra.Command {
	var (
		variant string
		opts    indexer.BuildOptions
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Extract feature vectors for every image in a directory",
		Long: `build decodes every image in <dir> (by extension, in file-name order),
extracts its feature vector with the chosen variant and stores it in a set.
Images that cannot be decoded or are too small for the variant are skipped.
Without --append the set is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := feature.Lookup(variant)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			collector, stop := a.collector(ctx, nil, nil)
			defer stop()

			b := indexer.NewBuilder(st, a.cfg.Extract, indexer.Hooks{
				Backend:   a.cfg.Store.Backend,
				Collector: collector,
			})
			report, err := b.Build(ctx, args[0], v, opts)
			if err != nil {
				return err
			}

			if client := a.redisClient(ctx); client != nil {
				if _, err := a.queryCache(client, nil).Invalidate(ctx); err != nil {
					slog.Warn("could not invalidate cached rankings", "error", err)
				}
				client.Close()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(out, "set %s (%s): stored %d of %d images in %s\n",
				report.Set, report.Variant, report.Stored, report.Scanned, report.Duration.Round(time.Millisecond))
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  skipped %s: %s\n", f.Image, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "rgb-histogram", "feature variant (see 'cbir variants')")
	cmd.Flags().StringVar(&opts.Set, "set", "", "set name (default: the variant name)")
	cmd.Flags().BoolVar(&opts.Append, "append", false, "add to the set instead of replacing it")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "extraction workers (default: extract.workers from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the build report as JSON")
	return cmd
}
