// Package links extracts douyin content links from share texts and link
// lists and rewrites them to the canonical video page.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	regexp "github.com/wasilibs/go-re2"

	"github.com/lizheng/media-analyst/internal/model"
)

type Kind string

const (
	KindShort  Kind = "short"
	KindVideo  Kind = "video"
	KindNote   Kind = "note"
	KindModal  Kind = "modal"
	KindMobile Kind = "mobile"
)

var kindNames = map[Kind]string{
	KindShort:  "short link",
	KindVideo:  "video page",
	KindNote:   "note page",
	KindModal:  "featured page",
	KindMobile: "mobile share",
}

const videoURL = "https://www.douyin.com/video/"

var (
	urlRe = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+[^\s<>"{}|\\^` + "`" + `\[\](),;.?!]`)

	// tried in order, each anchored at the start of the url
	patterns = []struct {
		kind Kind
		re   *regexp.Regexp
	}{
		{KindShort, regexp.MustCompile(`^https?://v\.douyin\.com/([a-zA-Z0-9_-]+)/?`)},
		{KindVideo, regexp.MustCompile(`^https?://(?:www\.)?douyin\.com/video/(\d+)`)},
		{KindNote, regexp.MustCompile(`^https?://(?:www\.)?douyin\.com/note/(\d+)`)},
		{KindModal, regexp.MustCompile(`^https?://(?:www\.)?douyin\.com/\w+\?modal_id=(\d+)`)},
		{KindMobile, regexp.MustCompile(`^https?://m\.douyin\.com/share/video/(\d+)`)},
	}
)

// Link is one recognized douyin link. For short links ID holds the short
// code and Normalized the original url until the link is resolved.
type Link struct {
	Original   string `json:"original"`
	Normalized string `json:"normalized"`
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
}

func (l Link) String() string {
	name, ok := kindNames[l.Kind]
	if !ok {
		name = "unknown"
	}
	return fmt.Sprintf("id: %s (%s)", l.ID, name)
}

// Resolver follows a short link to the url it redirects to.
type Resolver interface {
	Resolve(ctx context.Context, shortURL string) (string, error)
}

// ExtractURLs returns the distinct urls found in text, in order.
func ExtractURLs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var ret []string
	seen := make(map[string]struct{})
	for _, u := range urlRe.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		ret = append(ret, u)
	}
	return ret
}

// Parse recognizes a single douyin url.
func Parse(url string) (Link, bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return Link{}, false
	}
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		l := Link{Original: url, ID: m[1], Kind: p.kind}
		if p.kind == KindShort {
			l.Normalized = url
		} else {
			l.Normalized = videoURL + m[1]
		}
		return l, true
	}
	return Link{}, false
}

// Extract returns the douyin links of a share text or a comma separated
// list. Short links are resolved when r is not nil, a short link which
// can't be resolved is kept as is.
func Extract(ctx context.Context, text string, r Resolver) []Link {
	var ret []Link
	for part := range strings.SplitSeq(strings.ReplaceAll(text, "，", ","), ",") {
		for _, u := range ExtractURLs(part) {
			l, ok := Parse(u)
			if !ok {
				continue
			}
			if l.Kind == KindShort && r != nil {
				l = resolve(ctx, l, r)
			}
			ret = append(ret, l)
		}
	}
	return ret
}

func resolve(ctx context.Context, l Link, r Resolver) Link {
	target, err := r.Resolve(ctx, l.Original)
	if err != nil {
		slog.WarnContext(ctx, "short link not resolved", "url", l.Original, "error", err)
		return l
	}
	resolved, ok := Parse(target)
	if !ok || resolved.Kind == KindShort {
		slog.WarnContext(ctx, "short link resolved to an unknown url", "url", l.Original, "target", target)
		return l
	}
	resolved.Original = l.Original
	return resolved
}

// Normalize returns the normalized urls of Extract.
func Normalize(ctx context.Context, text string, r Resolver) []string {
	links := Extract(ctx, text, r)
	ret := make([]string, len(links))
	for i, l := range links {
		ret[i] = l.Normalized
	}
	return ret
}

var ErrNoLink = errors.New("no douyin link found")

// Normalizer rewrites the identifiers of douyin detail requests. Input
// without any url, e.g. plain content ids, is passed through.
type Normalizer struct {
	Resolver Resolver
}

var _ model.LinkNormalizer = Normalizer{}

func (n Normalizer) NormalizeIDs(ctx context.Context, platform model.Platform, mode model.Mode, ids string) (string, error) {
	if platform != model.PlatformDY || mode != model.ModeDetail {
		return ids, nil
	}
	if len(ExtractURLs(ids)) == 0 {
		return ids, nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, l := range Extract(ctx, ids, n.Resolver) {
		if _, ok := seen[l.Normalized]; ok {
			continue
		}
		seen[l.Normalized] = struct{}{}
		out = append(out, l.Normalized)
	}
	if len(out) == 0 {
		return "", ErrNoLink
	}
	return strings.Join(out, ","), nil
}
