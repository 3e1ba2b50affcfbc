package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lizheng/media-analyst/internal/log"
	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/service"
)

var (
	runFlags       requestFlags
	argsFlags      requestFlags
	flagRunWorkDir string
	flagRunTimeout string
)

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&flagRunWorkDir, "work-dir", "", "working directory of this run, defaults to worker.dir")
	runCmd.Flags().StringVar(&flagRunTimeout, "timeout", "", "timeout of this run, e.g. 30m or PT30M")
	argsFlags.register(argsCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts MediaCrawler for one request and streams its output",
	Example: `  media-analyst run -p dy -k 美食
  media-analyst run -p dy --mode detail --ids "https://v.douyin.com/abc/"`,
	RunE: doRun,
}

var argsCmd = &cobra.Command{
	Use:   "args",
	Short: "args prints the MediaCrawler command line of a request",
	RunE:  doArgs,
}

func doArgs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	n, err := normalizer()
	if err != nil {
		return err
	}
	req, err := model.ValidateContext(ctx, argsFlags.fields(cmd), n)
	if err != nil {
		return validationError(ctx, err)
	}
	w, err := service.ConfigFromModel(config.Worker)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), model.Preview(w.Dir, model.Command(w.Command, w.Flags.Build(req))))
	return err
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.String("cmd", "run"), slog.Int("pid", os.Getpid()))

	var opts []service.StartOption
	if flagRunWorkDir != "" {
		opts = append(opts, service.WithWorkDir(flagRunWorkDir))
	}
	if flagRunTimeout != "" {
		d, err := model.ParseDuration(flagRunTimeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		opts = append(opts, service.WithTimeout(d))
	}

	sup, _, err := newSupervisor(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sup.Close(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "closing supervisor", "error", err)
		}
	}()

	// the worker is stopped explicitly on interrupt
	h, err := sup.StartRaw(context.WithoutCancel(ctx), runFlags.fields(cmd), opts...)
	if h == nil {
		return validationError(ctx, err)
	}
	if err != nil {
		return err
	}

	snap, err := follow(ctx, sup, h, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), snap.Summary())
	return snap.Err()
}

// follow copies the worker output until the execution is terminal. When ctx
// is cancelled the worker is stopped.
func follow(ctx context.Context, sup *service.Supervisor, h *service.Handle, stdout, stderr io.Writer) (*model.Execution, error) {
	var seq int64
	for {
		changed := h.Changed()
		snap := h.Snapshot()
		for _, l := range snap.LinesSince(seq) {
			w := stdout
			if l.Stream == model.Stderr {
				w = stderr
			}
			_, _ = fmt.Fprintln(w, l.Text)
			seq = l.Seq
		}
		if snap.Status.Terminal() {
			return snap, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			slog.InfoContext(ctx, "interrupted: stopping the worker", "execution_id", h.ID())
			if _, err := sup.Stop(context.WithoutCancel(ctx), h.ID()); err != nil {
				return nil, err
			}
			ctx = context.WithoutCancel(ctx)
		}
	}
}
