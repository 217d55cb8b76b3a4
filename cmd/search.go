package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/export"
	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/store"
)

var (
	searchKind    string
	searchMax     int
	searchSite    string
	searchFormat  string
	searchXLSX    string
	searchNoStore bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one query through the provider fallback chain",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q, err := buildQuery(strings.Join(args, " "), searchKind, searchMax, searchSite)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Engine.Run(ctx, q)
		if !searchNoStore {
			logRun(ctx, env.Runs, q, res, store.SourceCLI)
		}

		if searchXLSX != "" && res.Success {
			if err := export.WriteXLSX(searchXLSX, res.Records); err != nil {
				return err
			}
			zap.L().Info("records exported", zap.String("path", searchXLSX), zap.Int("records", len(res.Records)))
		}

		if err := writeOutput(os.Stdout, searchFormat, res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("all providers failed for %q", q.Text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", string(model.KindGeneral), "query kind (vehicle, event, article, general)")
	searchCmd.Flags().IntVar(&searchMax, "max", 0, "maximum results to request (default 10)")
	searchCmd.Flags().StringVar(&searchSite, "site", "", "restrict results to a domain where the provider supports it")
	searchCmd.Flags().StringVar(&searchFormat, "format", "json", "output format (json, yaml)")
	searchCmd.Flags().StringVar(&searchXLSX, "xlsx", "", "also write records to this XLSX file")
	searchCmd.Flags().BoolVar(&searchNoStore, "no-store", false, "do not append the run to the run log")
	rootCmd.AddCommand(searchCmd)
}

// buildQuery assembles and validates a query from CLI or API input.
func buildQuery(text, kind string, maxResults int, site string) (model.Query, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return model.Query{}, err
	}
	q := model.NewQuery(strings.TrimSpace(text), k)
	q.MaxResults = maxResults
	if site != "" {
		q.Filters = map[string]any{"site": site}
	}
	if err := q.Validate(); err != nil {
		return model.Query{}, err
	}
	return q, nil
}

// logRun appends the run summary. A failing run log never fails the
// command.
func logRun(ctx context.Context, runs store.RunLog, q model.Query, res model.RunResult, source string) {
	r := store.NewRun(q, res, source)
	if err := runs.AppendRun(context.WithoutCancel(ctx), &r); err != nil {
		zap.L().Warn("failed to append run", zap.Error(err))
	}
}
