package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/inkwell/internal/session"
	"github.com/papapumpkin/inkwell/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source tree and recompile affected masters on change",
	Long: "Watch the source tree and recompile the masters affected by every change. " +
		"Creating a PAUSE file in the state directory defers changes until it is removed. " +
		"SIGHUP rescans the whole tree once the current batch has finished.",
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("compile-stale", false, "compile masters edited since their last compile before watching")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, logger, err := openSession(ctx, session.Options{OnBatch: printBatch})
	if err != nil {
		return err
	}
	defer logger.Close()
	defer sess.Close()

	cfg := sess.Config()
	w, err := watch.NewWatcher(cfg.SourceDir, watch.Options{
		Extension: cfg.Extension,
		StateDir:  cfg.StatePath(),
		Logger:    logger.With("component", "watcher"),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	printer.WatchStarted(cfg.SourceDir, len(sess.Registry().Masters()))
	if compileStale, _ := cmd.Flags().GetBool("compile-stale"); compileStale {
		sess.RecompileAll(ctx, true, false, nil)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		return forwardEvents(gctx, w, hup, sess)
	})
	return g.Wait()
}

// forwardEvents hands watcher output and reload signals to the session.
// Both are processed on the session's next tick.
func forwardEvents(ctx context.Context, w *watch.Watcher, hup <-chan os.Signal, sess *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case paths, ok := <-w.Changes:
			if !ok {
				return nil
			}
			sess.Submit(paths)
		case i, ok := <-w.Interventions:
			if !ok {
				return nil
			}
			printer.Paused(i == watch.InterventionPause)
			sess.Intervene(i)
		case <-hup:
			printer.Info("reloading source tree")
			sess.Reload()
		}
	}
}
