package model

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	regexp "github.com/wasilibs/go-re2"
)

// IssueKind classifies a schema violation.
type IssueKind string

const (
	IssueUnknownField IssueKind = "unknown_field"
	IssueMissing      IssueKind = "missing_required"
	IssueConflict     IssueKind = "conflicting_values"
	IssueEnum         IssueKind = "invalid_enum"
	IssueType         IssueKind = "type_mismatch"
	IssueOther        IssueKind = "validation_error"
)

// Issue is one violation of the configuration schema.
type Issue struct {
	Path    string // jobs.0.request.platform
	Kind    IssueKind
	Message string
	File    string
	Line    int
	Column  int
}

func (i Issue) String() string {
	var sb strings.Builder
	if i.Path != "" {
		sb.WriteString(i.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(i.Message)
	if i.File != "" {
		fmt.Fprintf(&sb, " (%s:%d:%d)", i.File, i.Line, i.Column)
	}
	return sb.String()
}

func (i Issue) Attr(name string) slog.Attr {
	return slog.GroupAttrs(name,
		slog.String("kind", string(i.Kind)),
		slog.String("path", i.Path),
		slog.String("message", i.Message),
		slog.String("file", i.File),
		slog.Int("line", i.Line),
		slog.Int("column", i.Column),
	)
}

// ConfigError is a configuration rejected by the schema.
type ConfigError struct {
	Err    error
	Issues []Issue
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// Issues returns the schema violations carried by err, if any.
func Issues(err error) []Issue {
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return cerr.Issues
	}
	return nil
}

// first match wins
var issueKinds = []struct {
	rx     *regexp.Regexp
	kind   IssueKind
	format string
}{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), IssueUnknownField, "field %s is not allowed"},
	{regexp.MustCompile(`(?i)incomplete value`), IssueMissing, "field %s is required"},
	{regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`), IssueConflict, "conflicting values for %s"},
	{regexp.MustCompile(`(?i)must be one of|expected one of`), IssueEnum, "field %s has an invalid value"},
	{regexp.MustCompile(`(?i)expected .* got .*`), IssueType, "field %s has a wrong type"},
}

// schema definitions listing the allowed values of enum fields
var enumDefs = map[string]string{
	"platform":    "#Platform",
	"mode":        "#Mode",
	"login_type":  "#LoginType",
	"save_format": "#SaveFormat",
}

func issues(err error) []Issue {
	var ret []Issue
	type at struct {
		file      string
		line, col int
	}
	seen := make(map[at]bool)
	for _, e := range cueerrors.Errors(err) {
		iss := newIssue(e)
		key := at{iss.File, iss.Line, iss.Column}
		if iss.File != "" && seen[key] {
			continue
		}
		seen[key] = true
		ret = append(ret, iss)
	}
	return ret
}

func newIssue(e cueerrors.Error) Issue {
	raw, _ := e.Msg()
	path := e.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	var field string
	if len(path) > 0 {
		field = path[len(path)-1]
	}

	iss := Issue{Path: strings.Join(path, "."), Kind: IssueOther, Message: raw}
	for _, k := range issueKinds {
		if k.rx.MatchString(raw) {
			iss.Kind = k.kind
			iss.Message = fmt.Sprintf(k.format, field)
			break
		}
	}
	if def, ok := enumDefs[field]; ok && iss.Kind != IssueUnknownField {
		if values := enumValues(root.LookupPath(cue.ParsePath(def))); len(values) > 0 {
			iss.Message += ", one of " + strings.Join(values, ",")
		}
	}
	for _, p := range cueerrors.Positions(e) {
		if p.Filename() != "" {
			iss.File, iss.Line, iss.Column = p.Filename(), p.Line(), p.Column()
			break
		}
	}
	return iss
}

// enumValues returns the strings of a disjunction like "a" | "b".
func enumValues(v cue.Value) []string {
	op, args := v.Expr()
	if op != cue.OrOp {
		args = []cue.Value{v}
	}
	var ret []string
	for _, a := range args {
		if s, err := a.String(); err == nil && !slices.Contains(ret, s) {
			ret = append(ret, s)
		}
	}
	return ret
}
