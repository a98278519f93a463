package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/marketing-kpi/internal/model"
	"github.com/sells-group/marketing-kpi/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing and summarizing recorded pipeline runs. Requires a sqlite or postgres store.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		fingerprint, _ := cmd.Flags().GetString("fingerprint")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{
			Fingerprint: fingerprint,
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "runs")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("fingerprint", "", "only runs that produced this fingerprint")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total        int
	Cached       int
	Truncated    int
	Fingerprints int
	AvgInputRows float64
	DroppedRows  int
	Duplicates   int
}

func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs)}
	seen := map[string]bool{}
	inputRows := 0

	for _, r := range runs {
		if r.FromCache {
			s.Cached++
		}
		if r.Diagnostics.Truncated {
			s.Truncated++
		}
		seen[r.Fingerprint] = true
		inputRows += r.Diagnostics.InputRows
		s.DroppedRows += r.Diagnostics.DroppedRows
		s.Duplicates += r.Diagnostics.DuplicateRecords
	}

	s.Fingerprints = len(seen)
	if s.Total > 0 {
		s.AvgInputRows = float64(inputRows) / float64(s.Total)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFINGERPRINT\tSOURCES\tROWS\tCACHED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----------\t-------\t----\t------\t-------")

	for _, r := range runs {
		sources := strings.Join(r.Sources, ",")
		if len(sources) > 40 {
			sources = sources[:37] + "..."
		}

		cached := "no"
		if r.FromCache {
			cached = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			shortFingerprint(r.Fingerprint),
			sources,
			r.Diagnostics.ProcessedRows,
			cached,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Served from cache:\t%d\n", s.Cached)
	_, _ = fmt.Fprintf(w, "Distinct fingerprints:\t%d\n", s.Fingerprints)
	_, _ = fmt.Fprintf(w, "Truncated inputs:\t%d\n", s.Truncated)
	_, _ = fmt.Fprintf(w, "Dropped rows:\t%d\n", s.DroppedRows)
	_, _ = fmt.Fprintf(w, "Duplicate records:\t%d\n", s.Duplicates)
	if s.AvgInputRows > 0 {
		_, _ = fmt.Fprintf(w, "Avg input rows:\t%.1f\n", s.AvgInputRows)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
