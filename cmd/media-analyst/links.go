package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lizheng/media-analyst/internal/links"
)

var flagLinksResolve bool

func init() {
	linksCmd.Flags().BoolVar(&flagLinksResolve, "resolve", false, "resolve v.douyin.com short links over HTTP")
}

var linksCmd = &cobra.Command{
	Use:   "links [share text or links...]",
	Short: "links extracts and normalizes douyin links, reads stdin without arguments",
	RunE:  doLinks,
}

func doLinks(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		text = string(b)
	}

	var r links.Resolver
	if flagLinksResolve {
		cfg := config.Service.Resolver
		cfg.Enabled = true
		hr, err := links.ResolverFromConfig(cfg)
		if err != nil {
			return err
		}
		r = hr
	}

	out := cmd.OutOrStdout()
	for _, l := range links.Extract(cmd.Context(), text, r) {
		if _, err := fmt.Fprintf(out, "%s\t%s\n", l.Normalized, l); err != nil {
			return err
		}
	}
	return nil
}
