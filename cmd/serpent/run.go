package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/FranksOps/serpent/internal/config"
	"github.com/FranksOps/serpent/internal/logging"
	"github.com/FranksOps/serpent/internal/pipeline"
	"github.com/FranksOps/serpent/internal/report"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "run [query...]",
		Short: "Crawl results pages for search terms or results-page URLs",
		Long: `Crawl results pages for each query. A query is a search term or a
results-page URL; several may be given per argument separated by newlines.
Queries from arguments are added to the ones in the configuration.`,
		Example: `  serpent run "cats" "dogs" --max-pages 3
  serpent run "https://www.google.de/search?q=katzen" --mobile
  serpent run --config serpent.yaml --output sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Queries = append(cfg.Queries, args...)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, closer, err := logging.New(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := &pipeline.Pipeline{Config: cfg, Logger: logger}
			if !noProgress {
				bar := newProgressBar(cmd.ErrOrStderr())
				p.OnRecord = func(*serp.ResultRecord) { _ = bar.Add(1) }
				defer func() { _ = bar.Finish() }()
			}

			summary, runErr := p.Run(ctx)
			if runErr == nil || summary.TotalRecords > 0 {
				if err := report.Write(cmd.OutOrStdout(), cfg.Report.Format, summary); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress indicator")

	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := ""
	if f := cmd.Flag("config"); f != nil {
		path = f.Value.String()
	}
	return config.Load(path, cmd.Flags())
}

// newProgressBar returns a spinner counting stored pages; the total is not
// known up front because pagination adds work as it goes.
func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
}
