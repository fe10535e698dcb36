package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/imageio"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/tracing"
)

func (a *app) queryCmd() *cobra.Command {
	var (
		variant string
		set     string
		k       int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <target>",
		Short: "Rank a stored set by similarity to a target image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if variant == "" {
				variant = a.cfg.Query.DefaultVariant
			}
			v, err := feature.Lookup(variant)
			if err != nil {
				return err
			}
			if k <= 0 {
				k = a.cfg.Query.DefaultK
			}
			img, err := imageio.Load(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if a.cfg.Tracing.Enabled {
				var span *tracing.Span
				ctx, span = tracing.StartSpan(ctx, "query", "")
				defer func() {
					span.End()
					span.Log(nil)
				}()
			}

			exec := executor.New(st)
			req := executor.Request{
				Variant:    v,
				Set:        set,
				Target:     img,
				TargetName: filepath.Base(args[0]),
				K:          k,
			}.Normalize()

			start := time.Now()
			var result *executor.Result
			client := a.redisClient(ctx)
			if client != nil {
				defer client.Close()
				target, err := exec.ExtractTarget(ctx, req)
				if err != nil {
					return err
				}
				key := cache.Key{Variant: v.Name, Set: req.Set, K: req.K, Target: target}
				result, _, err = a.queryCache(client, nil).GetOrCompute(ctx, key, func() (*executor.Result, error) {
					return exec.Rank(ctx, v, req.Set, target, req.K)
				})
				if err != nil {
					return err
				}
				result.Target = req.TargetName
			} else {
				result, err = exec.Execute(ctx, req)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(out, "%s against set %s (%s, %d candidates, %s)\n",
				result.Target, result.Set, result.Variant, result.Candidates, time.Since(start).Round(time.Millisecond))
			for i, m := range result.Matches {
				fmt.Fprintf(out, "%3d  %-40s %.6f\n", i+1, m.ID, m.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "feature variant (default: query.defaultVariant from config)")
	cmd.Flags().StringVar(&set, "set", "", "set name (default: the variant name)")
	cmd.Flags().IntVar(&k, "k", 0, "number of matches (default: query.defaultK from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
