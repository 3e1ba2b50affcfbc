package links_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lizheng/media-analyst/internal/links"
	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

const shareText = "6.61 w@f.bn 10/31 DUl:/ 1.21.11极限孤岛生存1~14天合集一口气看完！ # 我的世界中国版 https://v.douyin.com/awMri5tb7nw/ 复制此链接，打开Dou音搜索，直接观看视频！"

func TestExtractURLs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scenario string
		given    string
		then     []string
	}{
		{"single", "看这里 https://v.douyin.com/abc123/ 很有趣", []string{"https://v.douyin.com/abc123/"}},
		{"share text", shareText, []string{"https://v.douyin.com/awMri5tb7nw/"}},
		{"two", "视频1: https://v.douyin.com/abc/ 视频2: https://v.douyin.com/def/", []string{"https://v.douyin.com/abc/", "https://v.douyin.com/def/"}},
		{"duplicate", "https://v.douyin.com/abc/ https://v.douyin.com/abc/", []string{"https://v.douyin.com/abc/"}},
		{"trailing punctuation", "see https://www.douyin.com/video/123.", []string{"https://www.douyin.com/video/123"}},
		{"none", "这是一段普通文本，没有链接", nil},
		{"blank", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			require.Equal(t, tt.then, links.ExtractURLs(tt.given))
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	const id = "7605333789232876826"
	tests := []struct {
		scenario string
		given    string
		kind     links.Kind
		id       string
	}{
		{"short", "https://v.douyin.com/ci4JcA86h-g/", links.KindShort, "ci4JcA86h-g"},
		{"video", "https://www.douyin.com/video/" + id, links.KindVideo, id},
		{"video without www", "https://douyin.com/video/" + id, links.KindVideo, id},
		{"note", "https://www.douyin.com/note/" + id, links.KindNote, id},
		{"modal", "https://www.douyin.com/jingxuan?modal_id=" + id, links.KindModal, id},
		{"mobile", "https://m.douyin.com/share/video/" + id, links.KindMobile, id},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			l, ok := links.Parse(tt.given)
			require.True(t, ok)
			require.Equal(t, tt.kind, l.Kind)
			require.Equal(t, tt.id, l.ID)
			require.Equal(t, tt.given, l.Original)
			if tt.kind == links.KindShort {
				require.Equal(t, tt.given, l.Normalized)
			} else {
				require.Equal(t, "https://www.douyin.com/video/"+id, l.Normalized)
			}
		})
	}

	for _, bad := range []string{"https://example.com/video/123", "", "not a url"} {
		_, ok := links.Parse(bad)
		require.False(t, ok, bad)
	}

	l, _ := links.Parse("https://www.douyin.com/note/1")
	require.Equal(t, "id: 1 (note page)", l.String())
}

type resolverFunc func(ctx context.Context, url string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, url string) (string, error) { return f(ctx, url) }

func TestExtract(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	got := links.Extract(ctx, "https://www.douyin.com/video/123,https://www.douyin.com/note/456", nil)
	require.Len(t, got, 2)
	require.Equal(t, "123", got[0].ID)
	require.Equal(t, "456", got[1].ID)

	got = links.Extract(ctx, "https://v.douyin.com/short/, https://www.douyin.com/video/123, https://www.douyin.com/jingxuan?modal_id=456", nil)
	require.Len(t, got, 3)
	require.Equal(t, links.KindShort, got[0].Kind)

	require.Empty(t, links.Extract(ctx, "   ", nil))

	t.Run("resolved", func(t *testing.T) {
		r := resolverFunc(func(context.Context, string) (string, error) {
			return "https://www.douyin.com/video/123456?previous_page=app_code_link", nil
		})
		got := links.Extract(ctx, "https://v.douyin.com/abc123/", r)
		require.Len(t, got, 1)
		require.Equal(t, links.KindVideo, got[0].Kind)
		require.Equal(t, "123456", got[0].ID)
		require.Equal(t, "https://www.douyin.com/video/123456", got[0].Normalized)
		require.Equal(t, "https://v.douyin.com/abc123/", got[0].Original)
	})

	t.Run("resolver failure keeps the short link", func(t *testing.T) {
		r := resolverFunc(func(context.Context, string) (string, error) {
			return "", errors.New("network down")
		})
		got := links.Extract(ctx, "https://v.douyin.com/abc123/", r)
		require.Len(t, got, 1)
		require.Equal(t, links.KindShort, got[0].Kind)
	})

	t.Run("resolved to unknown", func(t *testing.T) {
		r := resolverFunc(func(context.Context, string) (string, error) {
			return "https://www.iesdouyin.com/share/user/1", nil
		})
		got := links.Extract(ctx, "https://v.douyin.com/abc123/", r)
		require.Len(t, got, 1)
		require.Equal(t, links.KindShort, got[0].Kind)
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	got := links.Normalize(t.Context(), "https://m.douyin.com/share/video/1，https://www.douyin.com/note/2", nil)
	require.Equal(t, []string{"https://www.douyin.com/video/1", "https://www.douyin.com/video/2"}, got)
}

func TestNormalizer(t *testing.T) {
	t.Parallel()
	r := resolverFunc(func(context.Context, string) (string, error) {
		return "https://www.douyin.com/video/999", nil
	})
	n := links.Normalizer{Resolver: r}
	ctx := t.Context()

	got, err := n.NormalizeIDs(ctx, model.PlatformDY, model.ModeDetail, shareText)
	require.NoError(t, err)
	require.Equal(t, "https://www.douyin.com/video/999", got)

	got, err = n.NormalizeIDs(ctx, model.PlatformDY, model.ModeDetail,
		"https://www.douyin.com/note/1, https://douyin.com/video/1, https://www.douyin.com/video/2")
	require.NoError(t, err)
	require.Equal(t, "https://www.douyin.com/video/1,https://www.douyin.com/video/2", got)

	got, err = n.NormalizeIDs(ctx, model.PlatformDY, model.ModeDetail, "7605333789232876826")
	require.NoError(t, err)
	require.Equal(t, "7605333789232876826", got)

	got, err = n.NormalizeIDs(ctx, model.PlatformXHS, model.ModeDetail, "https://www.douyin.com/note/1")
	require.NoError(t, err)
	require.Equal(t, "https://www.douyin.com/note/1", got)

	_, err = n.NormalizeIDs(ctx, model.PlatformDY, model.ModeDetail, "https://example.com/video/1")
	require.ErrorIs(t, err, links.ErrNoLink)

	t.Run("validation", func(t *testing.T) {
		req, err := model.ValidateContext(ctx, model.RawFields{
			Mode:         "detail",
			Platform:     "dy",
			SpecifiedIDs: "https://www.douyin.com/jingxuan?modal_id=42",
		}, n)
		require.NoError(t, err)
		require.Equal(t, "https://www.douyin.com/video/42", req.(model.Detail).SpecifiedIDs())

		_, err = model.ValidateContext(ctx, model.RawFields{
			Mode:         "detail",
			Platform:     "dy",
			SpecifiedIDs: "https://example.com/1",
		}, n)
		require.True(t, model.IsValidation(err))
	})
}
