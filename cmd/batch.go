package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/batch"
	"github.com/sells-group/multiscrape/internal/export"
	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/queryfile"
)

var (
	batchFile        string
	batchKind        string
	batchConcurrency int
	batchFormat      string
	batchXLSX        string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every query in a YAML, CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind, err := model.ParseKind(batchKind)
		if err != nil {
			return err
		}
		queries, err := queryfile.Read(batchFile, kind)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		proc := env.Batch
		if batchConcurrency > 0 {
			proc = batch.NewProcessor(env.Engine, env.Runs, batchConcurrency)
		}

		zap.L().Info("processing batch",
			zap.String("file", batchFile),
			zap.Int("queries", len(queries)),
		)

		job, err := proc.Process(ctx, queries)
		if err != nil {
			return err
		}

		if batchXLSX != "" && len(job.Records) > 0 {
			if err := export.WriteXLSX(batchXLSX, job.Records); err != nil {
				return err
			}
			zap.L().Info("records exported", zap.String("path", batchXLSX), zap.Int("records", len(job.Records)))
		}

		if err := writeOutput(os.Stdout, batchFormat, job); err != nil {
			return err
		}
		if job.Status == batch.StatusFailed {
			return eris.Errorf("batch %s failed: %d of %d queries exhausted every provider", job.ID, job.Failed, job.Total)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "query file (.yaml, .yml, .csv, .xlsx)")
	batchCmd.Flags().StringVar(&batchKind, "kind", string(model.KindGeneral), "kind for rows that do not set one")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "queries in flight (default from config)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "json", "output format (json, yaml)")
	batchCmd.Flags().StringVar(&batchXLSX, "xlsx", "", "also write all records to this XLSX file")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
