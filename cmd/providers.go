package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/multiscrape/internal/fallback"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the provider order and limiter state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, err := buildEngine(cfg, newProviderRegistry(cfg), nil)
		if err != nil {
			return err
		}
		formatProviders(os.Stdout, engine.Providers(), engine.Stats())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

// formatProviders writes one row per provider in priority order.
func formatProviders(out io.Writer, order []string, stats map[string]fallback.ProviderStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tPROVIDER\tCONFIGURED\tRUNNING\tQUEUED\tRESERVOIR\tBREAKER")
	_, _ = fmt.Fprintln(w, "-\t--------\t----------\t-------\t------\t---------\t-------")
	for i, name := range order {
		s := stats[name]
		breaker := s.Breaker
		if breaker == "" {
			breaker = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%d\t%d\t%s\n",
			i+1, name, s.Configured, s.Running, s.Queued, s.Reservoir, breaker)
	}
	_ = w.Flush()
}
