package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
	exitInterrupted = 130
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serpent",
		Short: "Crawl search engine results pages into a dataset",
		Long: `serpent fetches search results pages for search terms or results-page URLs,
follows pagination up to a limit and stores one record per page (organic
results, ads, related queries and debug metadata) in a dataset.

Configuration is read from serpent.yaml in the working directory or the XDG
config directory, SERPENT_* environment variables and flags, in increasing
order of precedence.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewResultsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var cfgErr *serp.ConfigurationError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfigError
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return exitCode(err)
}

// Execute runs the root command and exits.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
