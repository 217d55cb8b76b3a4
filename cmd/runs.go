package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/multiscrape/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect fallback run history",
	Long:  "Commands for listing, viewing, and summarizing logged runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		filter, err := runsFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeOutput(os.Stdout, format, run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("provider", "", "filter by winning provider (\"none\" for exhausted runs)")
	runsListCmd.Flags().String("source", "", "filter by source (cli, api, batch)")
	runsListCmd.Flags().String("job", "", "filter by batch job id")
	runsListCmd.Flags().String("success", "", "filter by outcome (true, false)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", "json", "output format (json, yaml)")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runsFilterFromFlags(cmd *cobra.Command) (store.RunFilter, error) {
	provider, _ := cmd.Flags().GetString("provider")
	source, _ := cmd.Flags().GetString("source")
	job, _ := cmd.Flags().GetString("job")
	success, _ := cmd.Flags().GetString("success")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.RunFilter{
		Provider: provider,
		Source:   source,
		JobID:    job,
		Limit:    limit,
	}
	switch strings.ToLower(success) {
	case "":
	case "true", "yes":
		v := true
		filter.Success = &v
	case "false", "no":
		v := false
		filter.Success = &v
	default:
		return filter, eris.Errorf("invalid --success value %q (want true or false)", success)
	}
	return filter, nil
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total     int
	Succeeded int
	Exhausted int
	AvgMs     float64
	Wins      map[string]int
	Failures  map[string]int
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []store.Run) runStats {
	s := runStats{
		Total:    len(runs),
		Wins:     make(map[string]int),
		Failures: make(map[string]int),
	}

	var totalMs int64
	for _, r := range runs {
		totalMs += r.ElapsedMs
		if r.Success {
			s.Succeeded++
			s.Wins[r.Provider]++
		} else {
			s.Exhausted++
		}
		for _, f := range r.Failures {
			s.Failures[f.Provider]++
		}
	}

	if s.Total > 0 {
		s.AvgMs = float64(totalMs) / float64(s.Total)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tTYPE\tTOOL\tRESULTS\tFAILURES\tCREATED\tELAPSED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t----\t-------\t--------\t-------\t-------")

	for _, r := range runs {
		query := r.Query
		if len(query) > 30 {
			query = query[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			query,
			r.Kind,
			r.Provider,
			r.ResultCount,
			len(r.Failures),
			r.CreatedAt.Format("2006-01-02 15:04"),
			(time.Duration(r.ElapsedMs) * time.Millisecond).String(),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Exhausted:\t%d\n", s.Exhausted)
	if s.AvgMs > 0 {
		_, _ = fmt.Fprintf(w, "Avg elapsed:\t%.0fms\n", s.AvgMs)
	}
	for _, name := range sortedNames(s.Wins) {
		_, _ = fmt.Fprintf(w, "  Won by %s:\t%d\n", name, s.Wins[name])
	}
	for _, name := range sortedNames(s.Failures) {
		_, _ = fmt.Fprintf(w, "  Failures from %s:\t%d\n", name, s.Failures[name])
	}
	_ = w.Flush()
}

func sortedNames(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
