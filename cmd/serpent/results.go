package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/serpent/internal/config"
	"github.com/FranksOps/serpent/internal/pipeline"
	"github.com/FranksOps/serpent/internal/report"
	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
	"github.com/spf13/cobra"
)

// NewResultsCmd creates the results command, which reads back a dataset.
func NewResultsCmd() *cobra.Command {
	var (
		term       string
		errorsOnly bool
		since      time.Duration
		limit      int
		offset     int
		summarize  bool
		organic    bool
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print stored records or a summary of a dataset",
		Long: `Read records back from the dataset selected by --output and print them as
JSON lines, newest first, or print a summary report with --summary. With
--organic each organic result is printed as its own line, tagged with the
term and page it came from. Kafka
datasets are write-only and cannot be read back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			backend, err := pipeline.OpenBackend(cmd.Context(), cfg.Output)
			if err != nil {
				return err
			}
			defer backend.Close()

			filter := storage.Filter{Term: term, Limit: limit, Offset: offset}
			if errorsOnly {
				isErr := true
				filter.IsError = &isErr
			}
			if since > 0 {
				ts := time.Now().Add(-since)
				filter.Since = &ts
			}

			records, err := backend.Query(cmd.Context(), filter)
			if err != nil {
				if errors.Is(err, storage.ErrQueryUnsupported) {
					return fmt.Errorf("%s cannot be read back: %w", backend.Location(), err)
				}
				return fmt.Errorf("query %s: %w", backend.Location(), err)
			}

			if summarize {
				return report.Write(cmd.OutOrStdout(), cfg.Report.Format, report.GenerateSummary(backend.Location(), records))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if organic {
				return writeOrganic(enc, records)
			}
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("encode record: %w", err)
				}
			}
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&term, "term", "", "only records for this search term")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "only error records")
	cmd.Flags().DurationVar(&since, "since", 0, "only records created within this duration")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to print (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many records")
	cmd.Flags().BoolVar(&summarize, "summary", false, "print a summary report instead of records")
	cmd.Flags().BoolVar(&organic, "organic", false, "print one line per organic result")

	return cmd
}

type organicLine struct {
	Term string `json:"term"`
	Page int    `json:"page"`
	serp.OrganicResult
}

// writeOrganic flattens the organic results of successful records.
func writeOrganic(enc *json.Encoder, records []*serp.ResultRecord) error {
	for _, rec := range records {
		if rec.IsError || rec.SearchQuery == nil {
			continue
		}
		for _, r := range rec.OrganicResults {
			line := organicLine{Term: rec.SearchQuery.Term, Page: rec.SearchQuery.Page, OrganicResult: r}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
		}
	}
	return nil
}
