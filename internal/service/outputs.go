package service

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/lizheng/media-analyst/internal/model"
)

// OutputLayout tells which files a worker run is expected to produce when
// it writes them at the given time.
type OutputLayout interface {
	Expected(req model.Request, workDir string, at time.Time) []string
}

// MediaCrawlerLayout follows data/<platform>/<format>/<mode>_contents_<date>.<ext>.
// Database formats and excel declare no files.
type MediaCrawlerLayout struct{}

var platformDirs = map[model.Platform]string{
	model.PlatformXHS:   "xhs",
	model.PlatformDY:    "douyin",
	model.PlatformKS:    "kuaishou",
	model.PlatformBili:  "bilibili",
	model.PlatformWB:    "weibo",
	model.PlatformTieba: "tieba",
	model.PlatformZhihu: "zhihu",
}

func (MediaCrawlerLayout) Expected(req model.Request, workDir string, at time.Time) []string {
	c := req.Common()
	var ext string
	switch c.SaveFormat {
	case model.SaveJSON:
		ext = "json"
	case model.SaveCSV:
		ext = "csv"
	default:
		return nil
	}
	base := c.SavePath
	switch {
	case base == "":
		base = filepath.Join(workDir, "data")
	case !filepath.IsAbs(base):
		base = filepath.Join(workDir, base)
	}
	name := string(req.Mode()) + "_contents_" + at.Format("2006-01-02") + "." + ext
	return []string{filepath.Join(base, platformDirs[c.Platform], ext, name)}
}

// days returns noon of every local calendar day from from to to, both
// included.
func days(from, to time.Time) []time.Time {
	if from.IsZero() {
		from = to
	}
	from, to = from.Local(), to.Local()
	if to.Before(from) {
		to = from
	}
	y, m, d := from.Date()
	ty, tm, td := to.Date()
	last := time.Date(ty, tm, td, 12, 0, 0, 0, time.Local)
	var ret []time.Time
	for day := time.Date(y, m, d, 12, 0, 0, 0, time.Local); !day.After(last); day = day.AddDate(0, 0, 1) {
		ret = append(ret, day)
	}
	return ret
}

// resolveOutputs asks the layout for every day the run spanned. An expected
// file counts as produced when it exists for any of those days; the newest
// existing candidate is returned. Files not found are reported with their
// path on the last day.
func resolveOutputs(l OutputLayout, req model.Request, workDir string, from, to time.Time) (files, missing []string, err error) {
	ds := days(from, to)
	candidates := make([][]string, len(ds))
	for i, d := range ds {
		candidates[i] = l.Expected(req, workDir, d)
	}
	last := candidates[len(candidates)-1]

	var errs []error
	for i, want := range last {
		found := ""
		for j := len(candidates) - 1; j >= 0 && found == ""; j-- {
			if i >= len(candidates[j]) {
				continue
			}
			m, err := missingFiles(candidates[j][i : i+1])
			if err != nil {
				errs = append(errs, err)
			}
			if len(m) == 0 {
				found = candidates[j][i]
			}
		}
		if found == "" {
			missing = append(missing, want)
			found = want
		}
		files = append(files, found)
	}
	return files, missing, errors.Join(errs...)
}

// missingFiles returns the paths which do not exist as regular files.
func missingFiles(paths []string) ([]string, error) {
	var missing []string
	var errs []error
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, p)
		case err != nil:
			errs = append(errs, err)
			missing = append(missing, p)
		case !info.Mode().IsRegular():
			missing = append(missing, p)
		}
	}
	return missing, errors.Join(errs...)
}
