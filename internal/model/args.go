package model

import (
	"strconv"
	"strings"
)

// FlagTable maps enum values to the codes the worker understands on its command line.
type FlagTable struct {
	Platforms   map[Platform]string   `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	Modes       map[Mode]string       `json:"modes,omitempty" yaml:"modes,omitempty"`
	LoginTypes  map[LoginType]string  `json:"login_types,omitempty" yaml:"login_types,omitempty"`
	SaveFormats map[SaveFormat]string `json:"save_formats,omitempty" yaml:"save_formats,omitempty"`
}

// DefaultFlagTable is the MediaCrawler vocabulary.
func DefaultFlagTable() FlagTable {
	t := FlagTable{
		Platforms:   make(map[Platform]string, len(Platforms)),
		Modes:       map[Mode]string{ModeSearch: "search", ModeDetail: "detail", ModeCreator: "creator"},
		LoginTypes:  map[LoginType]string{LoginQRCode: "qrcode", LoginPhone: "phone", LoginCookie: "cookie"},
		SaveFormats: make(map[SaveFormat]string),
	}
	for _, p := range Platforms {
		t.Platforms[p] = string(p)
	}
	for _, f := range []SaveFormat{SaveJSON, SaveCSV, SaveExcel, SaveSQLite, SaveDB, SaveMongoDB, SavePostgres} {
		t.SaveFormats[f] = string(f)
	}
	return t
}

// With returns a copy of t with the non empty overrides applied.
func (t FlagTable) With(platforms map[Platform]string, modes map[Mode]string) FlagTable {
	ret := FlagTable{
		Platforms:   make(map[Platform]string, len(t.Platforms)),
		Modes:       make(map[Mode]string, len(t.Modes)),
		LoginTypes:  t.LoginTypes,
		SaveFormats: t.SaveFormats,
	}
	for k, v := range t.Platforms {
		ret.Platforms[k] = v
	}
	for k, v := range t.Modes {
		ret.Modes[k] = v
	}
	for k, v := range platforms {
		if v != "" {
			ret.Platforms[k] = v
		}
	}
	for k, v := range modes {
		if v != "" {
			ret.Modes[k] = v
		}
	}
	return ret
}

// Build returns the argument vector for r. The order of the flags is fixed
// and the function does not modify r nor the table.
func (t FlagTable) Build(r Request) []string {
	c := r.Common()
	args := []string{
		"--platform", code(t.Platforms, c.Platform),
		"--lt", code(t.LoginTypes, c.LoginType),
		"--start", strconv.Itoa(c.StartPage),
		"--save_data_option", code(t.SaveFormats, c.SaveFormat),
		"--max_comments_count_singlenotes", strconv.Itoa(c.MaxComments),
		"--get_comment", yesNo(c.GetComment),
		"--get_sub_comment", yesNo(c.GetSubComment),
		"--headless", yesNo(c.Headless),
	}
	if c.SavePath != "" {
		args = append(args, "--save_data_path", c.SavePath)
	}
	if !c.DateRange.From.IsZero() {
		args = append(args, "--start_date", c.DateRange.From.Format(dateLayout))
	}
	if !c.DateRange.To.IsZero() {
		args = append(args, "--end_date", c.DateRange.To.Format(dateLayout))
	}
	args = append(args, "--type", code(t.Modes, r.Mode()))

	switch v := r.(type) {
	case Search:
		args = append(args, "--keywords", v.Keywords())
	case Detail:
		args = append(args, "--specified_id", v.SpecifiedIDs())
	case Creator:
		args = append(args, "--creator_id", v.CreatorIDs())
	}
	return args
}

// BuildArgs is DefaultFlagTable().Build(r).
func BuildArgs(r Request) []string {
	return DefaultFlagTable().Build(r)
}

// Command prepends the worker invocation prefix, e.g. "uv run main.py".
func Command(prefix []string, args []string) []string {
	ret := make([]string, 0, len(prefix)+len(args))
	ret = append(ret, prefix...)
	return append(ret, args...)
}

// Preview renders the command the way a user would type it in a shell.
func Preview(dir string, cmdline []string) string {
	quoted := make([]string, len(cmdline))
	for i, a := range cmdline {
		quoted[i] = shellQuote(a)
	}
	return "cd " + shellQuote(dir) + " && " + strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func code[K ~string](m map[K]string, k K) string {
	if v, ok := m[k]; ok && v != "" {
		return v
	}
	return string(k)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
