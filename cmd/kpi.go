package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/marketing-kpi/internal/config"
	"github.com/sells-group/marketing-kpi/internal/fetcher"
	"github.com/sells-group/marketing-kpi/internal/model"
	"github.com/sells-group/marketing-kpi/internal/pipeline"
)

// maxConcurrentLoads bounds parallel file reads and downloads.
const maxConcurrentLoads = 4

var kpiCmd = &cobra.Command{
	Use:   "kpi <file-or-url>...",
	Short: "Derive KPIs from spreadsheet exports",
	Long: "Loads CSV, XLSX, JSON or ZIP inputs (local paths or http(s) URLs), runs the KPI pipeline " +
		"and prints the result as JSON. Each workbook tab becomes a source; later arguments win " +
		"identity conflicts when leads are merged.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "kpi")
		if err != nil {
			return err
		}
		defer env.Close()

		sheets, _ := cmd.Flags().GetStringSlice("sheet")
		if len(sheets) == 0 {
			sheets = cfg.Pipeline.Sheets
		}
		sources, err := loadSources(ctx, env.Fetcher, args, fetcher.LoadOptions{Sheets: sheets})
		if err != nil {
			return err
		}

		in := pipeline.Input{Sources: sources}
		if path, _ := cmd.Flags().GetString("phase-table"); path != "" {
			in.PhaseTable, err = config.LoadPhaseTable(path)
			if err != nil {
				return err
			}
		}

		res, err := env.Pipeline.Run(ctx, in)
		if err != nil {
			return eris.Wrap(err, "kpi")
		}

		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrap(err, "kpi: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		compact, _ := cmd.Flags().GetBool("compact")
		return writeResult(out, res, !compact)
	},
}

// loadSources reads every argument concurrently and flattens the datasets
// in argument order. Priorities follow that order, so later inputs win
// merge conflicts.
func loadSources(ctx context.Context, f fetcher.Fetcher, args []string, opts fetcher.LoadOptions) ([]pipeline.Source, error) {
	results := make([][]model.Dataset, len(args))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, arg := range args {
		g.Go(func() error {
			var (
				datasets []model.Dataset
				err      error
			)
			if fetcher.IsURL(arg) {
				datasets, err = fetcher.LoadURL(gctx, f, arg, opts)
			} else {
				datasets, err = fetcher.LoadFile(gctx, arg, opts)
			}
			if err != nil {
				return eris.Wrapf(err, "load %s", arg)
			}
			results[i] = datasets
			zap.L().Debug("loaded input",
				zap.String("input", arg),
				zap.Int("datasets", len(datasets)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sources []pipeline.Source
	for _, datasets := range results {
		for _, ds := range datasets {
			sources = append(sources, pipeline.Source{
				Name:     ds.Name,
				Priority: len(sources) + 1,
				Dataset:  ds,
			})
		}
	}
	if len(sources) == 0 {
		return nil, eris.New("kpi: inputs contain no datasets")
	}
	return sources, nil
}

func writeResult(w io.Writer, res *model.PipelineResult, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return eris.Wrap(enc.Encode(res), "kpi: encode result")
}

func init() {
	kpiCmd.Flags().StringSlice("sheet", nil, "workbook tabs to read (default: all, or pipeline.sheets)")
	kpiCmd.Flags().String("phase-table", "", "YAML phase ordering for this run (overrides pipeline.phase_table_path)")
	kpiCmd.Flags().StringP("output", "o", "", "write the JSON result to this file instead of stdout")
	kpiCmd.Flags().Bool("compact", false, "emit single-line JSON")
	rootCmd.AddCommand(kpiCmd)
}
