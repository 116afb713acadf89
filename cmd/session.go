package cmd

import (
	"context"
	"fmt"

	"github.com/papapumpkin/inkwell/internal/build"
	"github.com/papapumpkin/inkwell/internal/config"
	"github.com/papapumpkin/inkwell/internal/logging"
	"github.com/papapumpkin/inkwell/internal/session"
	"github.com/papapumpkin/inkwell/internal/ui"
)

// openSession loads configuration, sets up logging and opens a session
// over the configured source tree. The caller closes both the session
// and the logger.
func openSession(ctx context.Context, opts session.Options) (*session.Session, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	// An empty log_file logs text to stderr.
	logger, err := logging.NewFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	opts.Config = cfg
	opts.Logger = logger
	sess, err := session.Open(ctx, opts)
	if err != nil {
		logger.Close()
		return nil, nil, fmt.Errorf("failed to open session: %w", err)
	}
	return sess, logger, nil
}

var printer = ui.New()

// printBatch is a build.Callback that renders a batch summary.
func printBatch(b build.BatchResult) {
	printer.BatchSummary(b)
}
