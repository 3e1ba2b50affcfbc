package service_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/model"
	"github.com/lizheng/media-analyst/internal/service"

	"github.com/stretchr/testify/require"
)

func TestMediaCrawlerLayout(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 23, 30, 0, 0, time.Local)
	var layout service.MediaCrawlerLayout

	tests := []struct {
		scenario string
		raw      model.RawFields
		then     []string
	}{
		{
			scenario: "douyin search json",
			raw:      model.RawFields{Mode: "search", Platform: "dy", Keywords: "美食"},
			then:     []string{filepath.Join("/w", "data", "douyin", "json", "search_contents_2025-03-01.json")},
		},
		{
			scenario: "bilibili creator csv",
			raw:      model.RawFields{Mode: "creator", Platform: "bili", SaveFormat: "csv", CreatorIDs: "1"},
			then:     []string{filepath.Join("/w", "data", "bilibili", "csv", "creator_contents_2025-03-01.csv")},
		},
		{
			scenario: "relative save path",
			raw:      model.RawFields{Mode: "detail", Platform: "xhs", SpecifiedIDs: "n1", SavePath: "out"},
			then:     []string{filepath.Join("/w", "out", "xhs", "json", "detail_contents_2025-03-01.json")},
		},
		{
			scenario: "absolute save path",
			raw:      model.RawFields{Mode: "search", Platform: "wb", Keywords: "a", SavePath: "/data/crawl"},
			then:     []string{filepath.Join("/data/crawl", "weibo", "json", "search_contents_2025-03-01.json")},
		},
		{
			scenario: "database",
			raw:      model.RawFields{Mode: "search", Platform: "ks", Keywords: "a", SaveFormat: "sqlite"},
		},
		{
			scenario: "excel",
			raw:      model.RawFields{Mode: "search", Platform: "zhihu", Keywords: "a", SaveFormat: "excel"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			req, err := model.Validate(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.then, layout.Expected(req, "/w", at))
		})
	}
}
