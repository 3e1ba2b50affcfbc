package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lizheng/media-analyst/internal/links"
	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/service"
	"github.com/lizheng/media-analyst/internal/store"
)

// requestFlags binds the fields of a request to command line flags.
type requestFlags struct {
	raw         model.RawFields
	headless    bool
	maxComments int
}

func (f *requestFlags) register(cmd *cobra.Command) {
	def := model.DefaultCommon(model.PlatformDY)
	flags := cmd.Flags()
	flags.StringVar(&f.raw.Mode, "mode", string(model.ModeSearch), "search, detail or creator")
	flags.StringVarP(&f.raw.Platform, "platform", "p", "", "xhs, dy, ks, bili, wb, tieba or zhihu")
	flags.StringVarP(&f.raw.Keywords, "keywords", "k", "", "comma separated keywords (search)")
	flags.StringVar(&f.raw.SpecifiedIDs, "ids", "", "comma separated content ids or links (detail)")
	flags.StringVar(&f.raw.CreatorIDs, "creators", "", "comma separated creator ids (creator)")
	flags.StringVar(&f.raw.LoginType, "login-type", "", "qrcode, phone or cookie")
	flags.StringVar(&f.raw.SaveFormat, "save-format", "", "json, csv, excel, sqlite, db, mongodb or postgres")
	flags.StringVar(&f.raw.SavePath, "save-path", "", "directory for the collected data")
	flags.StringVar(&f.raw.StartDate, "start-date", "", "first day, YYYY-MM-DD")
	flags.StringVar(&f.raw.EndDate, "end-date", "", "last day, YYYY-MM-DD")
	flags.IntVar(&f.raw.StartPage, "start-page", 0, "first result page")
	flags.BoolVar(&f.raw.GetComment, "comments", false, "collect comments")
	flags.BoolVar(&f.raw.GetSubComment, "sub-comments", false, "collect replies to comments")
	flags.BoolVar(&f.headless, "headless", def.Headless, "run the browser without a window")
	flags.IntVar(&f.maxComments, "max-comments", def.MaxComments, "comments per content")
	_ = cmd.MarkFlagRequired("platform")
}

func (f *requestFlags) fields(cmd *cobra.Command) model.RawFields {
	raw := f.raw
	if cmd.Flags().Changed("headless") {
		raw.Headless = &f.headless
	}
	if cmd.Flags().Changed("max-comments") {
		raw.MaxComments = &f.maxComments
	}
	return raw
}

func validationError(ctx context.Context, err error) error {
	for _, v := range model.ValidationErrors(err) {
		slog.ErrorContext(ctx, "invalid request", "field", v.Field, "message", v.Message)
	}
	return err
}

func normalizer() (model.LinkNormalizer, error) {
	r, err := links.ResolverFromConfig(config.Service.Resolver)
	if err != nil {
		return nil, err
	}
	n := links.Normalizer{}
	if r != nil {
		n.Resolver = r
	}
	return n, nil
}

// newSupervisor builds the supervisor of the loaded configuration, with the
// history store attached when configured.
func newSupervisor(ctx context.Context, opts ...service.Option) (*service.Supervisor, *store.History, error) {
	n, err := normalizer()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, service.WithNormalizer(n))

	var history *store.History
	if config.Service.History != "" {
		history, err = store.Open(ctx, config.Service.History)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, service.WithSinks(history))
	}

	sup, err := service.SupervisorFromConfig(ctx, config, opts...)
	if err != nil {
		if history != nil {
			_ = history.Close()
		}
		return nil, nil, fmt.Errorf("initializing supervisor: %w", err)
	}
	return sup, history, nil
}
