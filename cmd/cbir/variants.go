package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/feature"
)

func (a *app) variantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the feature variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLENGTH\tMETRIC\tDESCRIPTION")
			fmt.Fprintln(w, "----\t------\t------\t-----------")
			for _, v := range feature.All() {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", v.Name, v.Length, v.Metric, v.Description)
			}
			return w.Flush()
		},
	}
}
