package model_test

import (
	"testing"

	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	req, err := model.Validate(model.RawFields{Mode: "search", Platform: "dy", Keywords: "美食"})
	require.NoError(t, err)

	args := model.BuildArgs(req)
	require.Equal(t, []string{
		"--platform", "dy",
		"--lt", "qrcode",
		"--start", "1",
		"--save_data_option", "json",
		"--max_comments_count_singlenotes", "100",
		"--get_comment", "no",
		"--get_sub_comment", "no",
		"--headless", "yes",
		"--type", "search",
		"--keywords", "美食",
	}, args)

	// deterministic and pure
	require.Equal(t, args, model.BuildArgs(req))
	require.Equal(t, "美食", req.Target())
}

func TestBuildArgs_Optional(t *testing.T) {
	t.Parallel()

	cases := []struct {
		scenario string
		given    model.RawFields
		then     []string
	}{
		{
			scenario: "detail with save path",
			given:    model.RawFields{Mode: "detail", Platform: "xhs", SavePath: "/tmp/out", GetComment: true, SpecifiedIDs: "n1,n2"},
			then: []string{
				"--platform", "xhs", "--lt", "qrcode", "--start", "1", "--save_data_option", "json",
				"--max_comments_count_singlenotes", "100", "--get_comment", "yes", "--get_sub_comment", "no",
				"--headless", "yes", "--save_data_path", "/tmp/out", "--type", "detail", "--specified_id", "n1,n2",
			},
		},
		{
			scenario: "creator with dates",
			given: model.RawFields{
				Mode: "creator", Platform: "bili", LoginType: "cookie", Headless: ptr(false), SaveFormat: "sqlite",
				MaxComments: ptr(5), StartPage: 2, StartDate: "2024-05-01", EndDate: "2024-05-02", CreatorIDs: "42",
			},
			then: []string{
				"--platform", "bili", "--lt", "cookie", "--start", "2", "--save_data_option", "sqlite",
				"--max_comments_count_singlenotes", "5", "--get_comment", "no", "--get_sub_comment", "no",
				"--headless", "no", "--start_date", "2024-05-01", "--end_date", "2024-05-02",
				"--type", "creator", "--creator_id", "42",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			req, err := model.Validate(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, model.BuildArgs(req))
		})
	}
}

func TestFlagTable_With(t *testing.T) {
	t.Parallel()

	def := model.DefaultFlagTable()
	table := def.With(
		map[model.Platform]string{model.PlatformDY: "douyin", model.PlatformKS: ""},
		map[model.Mode]string{model.ModeSearch: "query"},
	)
	req, err := model.Validate(model.RawFields{Mode: "search", Platform: "dy", Keywords: "k"})
	require.NoError(t, err)

	args := table.Build(req)
	require.Equal(t, []string{"--platform", "douyin"}, args[:2])
	require.Equal(t, []string{"--type", "query", "--keywords", "k"}, args[len(args)-4:])

	// the receiver is left untouched
	require.Equal(t, "dy", def.Platforms[model.PlatformDY])
	require.Equal(t, "ks", table.Platforms[model.PlatformKS])
}

func TestCommandPreview(t *testing.T) {
	t.Parallel()

	req, err := model.Validate(model.RawFields{Mode: "search", Platform: "dy", Keywords: "美食 探店"})
	require.NoError(t, err)
	cmd := model.Command([]string{"uv", "run", "main.py"}, model.BuildArgs(req))
	require.Equal(t, []string{"uv", "run", "main.py", "--platform", "dy"}, cmd[:5])

	preview := model.Preview("../MediaCrawler", cmd)
	require.Equal(t,
		"cd ../MediaCrawler && uv run main.py --platform dy --lt qrcode --start 1 --save_data_option json "+
			"--max_comments_count_singlenotes 100 --get_comment no --get_sub_comment no --headless yes "+
			"--type search --keywords '美食 探店'",
		preview)
}
