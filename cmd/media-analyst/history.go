package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/store"
)

var (
	flagHistoryPlatform string
	flagHistoryStatus   string
	flagHistoryLimit    int
	flagHistoryJSON     bool
)

func init() {
	flags := historyCmd.Flags()
	flags.StringVarP(&flagHistoryPlatform, "platform", "p", "", "only executions of a platform")
	flags.StringVar(&flagHistoryStatus, "status", "", "only executions with a status, e.g. FAILED")
	flags.IntVarP(&flagHistoryLimit, "limit", "n", 20, "maximum number of executions")
	flags.BoolVar(&flagHistoryJSON, "json", false, "print JSON lines")
	historyCmd.AddCommand(historyDeleteCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history lists finished executions stored in service.history",
	RunE:  doHistory,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "delete removes executions from the history",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doHistoryDelete,
}

func openHistory(ctx context.Context) (*store.History, error) {
	if config.Service.History == "" {
		return nil, errors.New("service.history is not configured")
	}
	return store.Open(ctx, config.Service.History)
}

func doHistoryDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = h.Close()
	}()
	var errs []error
	for _, id := range args {
		if err := h.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", id, err))
			continue
		}
		slog.InfoContext(ctx, "deleted", "execution_id", id)
	}
	return errors.Join(errs...)
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	f := store.Filter{
		Platform: model.Platform(flagHistoryPlatform),
		Limit:    flagHistoryLimit,
	}
	if flagHistoryStatus != "" {
		st, err := model.ParseStatus(flagHistoryStatus)
		if err != nil {
			return err
		}
		f.Status = st
	}

	h, err := openHistory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = h.Close()
	}()
	rows, err := h.List(ctx, f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagHistoryJSON {
		enc := json.NewEncoder(out)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tPLATFORM\tMODE\tSTATUS\tREASON\tDURATION\tTARGET")
	for _, r := range rows {
		var d string
		if r.StartTime != nil && r.EndTime != nil {
			d = r.EndTime.Sub(*r.StartTime).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.UUID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Platform,
			r.Mode,
			r.Status,
			r.Reason,
			d,
			r.Target,
		)
	}
	return tw.Flush()
}
