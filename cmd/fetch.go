// File: cmd/fetch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/browser"
	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/observability"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
	"github.com/xkilldash9x/petitionfetch/internal/server"
)

// resultSaver records retrieval outcomes.
type resultSaver interface {
	Save(ctx context.Context, res retrieval.Result) error
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <case-number>",
		Short: "Downloads the Voluntary Petition for one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if comps != nil {
				defer comps.Shutdown()
			}
			if err != nil {
				return err
			}

			return runFetch(ctx, cmd.OutOrStdout(), cfg, args[0], comps.Sequencer, comps.saver(), logger)
		},
	}
}

// runFetch performs one retrieval and reports the outcome on out.
func runFetch(
	ctx context.Context,
	out io.Writer,
	cfg *config.Config,
	caseNumber string,
	retriever server.Retriever,
	saver resultSaver,
	logger *zap.Logger,
) error {
	cred := retrieval.Credential{Username: cfg.Target.Username, Password: cfg.Target.Password}

	fmt.Fprintf(out, "Retrieving %q for case %s...\n", cfg.Retrieval.DocumentLabel, caseNumber)
	res := retriever.Retrieve(ctx, caseNumber, cred)

	if saver != nil {
		if err := saver.Save(ctx, res); err != nil {
			logger.Warn("Could not record retrieval", zap.Error(err))
		}
	}

	if res.OK() {
		fmt.Fprintf(out, "Saved %s\n", res.FilePath)
		return nil
	}

	if res.Failure != nil {
		for _, art := range res.Failure.Artifacts {
			fmt.Fprintf(out, "Diagnostics: %s %s\n", art.HTMLPath, art.ScreenshotPath)
		}
	}
	if errors.Is(res.Err(), browser.ErrRuntimeUnavailable) {
		return fmt.Errorf("%w; install Chrome or Chromium, or set browser.exec_path", res.Err())
	}
	return res.Err()
}
