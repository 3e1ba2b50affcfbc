package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Platform is a content platform supported by the worker.
type Platform string

const (
	PlatformXHS   Platform = "xhs"
	PlatformDY    Platform = "dy"
	PlatformKS    Platform = "ks"
	PlatformBili  Platform = "bili"
	PlatformWB    Platform = "wb"
	PlatformTieba Platform = "tieba"
	PlatformZhihu Platform = "zhihu"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformXHS,
	PlatformDY,
	PlatformKS,
	PlatformBili,
	PlatformWB,
	PlatformTieba,
	PlatformZhihu,
}

func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

type LoginType string

const (
	LoginQRCode LoginType = "qrcode"
	LoginPhone  LoginType = "phone"
	LoginCookie LoginType = "cookie"
)

func (l LoginType) Valid() bool {
	switch l {
	case LoginQRCode, LoginPhone, LoginCookie:
		return true
	}
	return false
}

// SaveFormat is where the worker stores what it collected.
type SaveFormat string

const (
	SaveJSON     SaveFormat = "json"
	SaveCSV      SaveFormat = "csv"
	SaveExcel    SaveFormat = "excel"
	SaveSQLite   SaveFormat = "sqlite"
	SaveDB       SaveFormat = "db"
	SaveMongoDB  SaveFormat = "mongodb"
	SavePostgres SaveFormat = "postgres"
)

func (f SaveFormat) Valid() bool {
	switch f {
	case SaveJSON, SaveCSV, SaveExcel, SaveSQLite, SaveDB, SaveMongoDB, SavePostgres:
		return true
	}
	return false
}

// Mode is the tag of a Request variant.
type Mode string

const (
	ModeSearch  Mode = "search"
	ModeDetail  Mode = "detail"
	ModeCreator Mode = "creator"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSearch, ModeDetail, ModeCreator:
		return true
	}
	return false
}

const (
	DefaultMaxComments = 100
	MaxMaxComments     = 10000

	dateLayout = "2006-01-02"
)

// DateRange bounds the collected content by publication date. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (d DateRange) IsZero() bool {
	return d.From.IsZero() && d.To.IsZero()
}

// Common holds the fields shared by every request variant.
type Common struct {
	Platform      Platform
	LoginType     LoginType
	GetComment    bool
	GetSubComment bool
	Headless      bool
	SaveFormat    SaveFormat
	MaxComments   int
	StartPage     int
	SavePath      string
	DateRange     DateRange
}

// DefaultCommon returns the defaults used when a caller does not set a field.
func DefaultCommon(p Platform) Common {
	return Common{
		Platform:    p,
		LoginType:   LoginQRCode,
		Headless:    true,
		SaveFormat:  SaveJSON,
		MaxComments: DefaultMaxComments,
		StartPage:   1,
	}
}

func (c Common) check() []error {
	var errs []error
	if !c.Platform.Valid() {
		errs = append(errs, &ValidationError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", c.Platform)})
	}
	if !c.LoginType.Valid() {
		errs = append(errs, &ValidationError{Field: "login_type", Message: fmt.Sprintf("unsupported login type %q", c.LoginType)})
	}
	if !c.SaveFormat.Valid() {
		errs = append(errs, &ValidationError{Field: "save_format", Message: fmt.Sprintf("unsupported save format %q", c.SaveFormat)})
	}
	if c.MaxComments < 0 || c.MaxComments > MaxMaxComments {
		errs = append(errs, &ValidationError{Field: "max_comments", Message: fmt.Sprintf("must be between 0 and %d", MaxMaxComments)})
	}
	if c.StartPage < 1 {
		errs = append(errs, &ValidationError{Field: "start_page", Message: "must be at least 1"})
	}
	if !c.DateRange.From.IsZero() && !c.DateRange.To.IsZero() && c.DateRange.From.After(c.DateRange.To) {
		errs = append(errs, &ValidationError{Field: "end_date", Message: "must not be before start_date"})
	}
	return errs
}

// Request is a validated run request. The set of implementations is closed:
// Search, Detail and Creator. Values are obtained from NewSearch, NewDetail,
// NewCreator or Validate; the zero value of a variant is rejected by Check.
type Request interface {
	Mode() Mode
	Common() Common
	// Target is the mode specific identifier list: keywords, content ids or creator ids.
	Target() string
	sealed()
}

type Search struct {
	common   Common
	keywords string
}

type Detail struct {
	common       Common
	specifiedIDs string
}

type Creator struct {
	common     Common
	creatorIDs string
}

func NewSearch(c Common, keywords string) (Search, error) {
	kw, err := identifierList("keywords", keywords)
	if err = errors.Join(append(c.check(), err)...); err != nil {
		return Search{}, err
	}
	return Search{common: c, keywords: kw}, nil
}

func NewDetail(c Common, specifiedIDs string) (Detail, error) {
	ids, err := identifierList("specified_ids", specifiedIDs)
	if err = errors.Join(append(c.check(), err)...); err != nil {
		return Detail{}, err
	}
	return Detail{common: c, specifiedIDs: ids}, nil
}

func NewCreator(c Common, creatorIDs string) (Creator, error) {
	ids, err := identifierList("creator_ids", creatorIDs)
	if err = errors.Join(append(c.check(), err)...); err != nil {
		return Creator{}, err
	}
	return Creator{common: c, creatorIDs: ids}, nil
}

func (Search) Mode() Mode         { return ModeSearch }
func (s Search) Common() Common   { return s.common }
func (s Search) Target() string   { return s.keywords }
func (s Search) Keywords() string { return s.keywords }
func (Search) sealed()            {}

func (Detail) Mode() Mode             { return ModeDetail }
func (d Detail) Common() Common       { return d.common }
func (d Detail) Target() string       { return d.specifiedIDs }
func (d Detail) SpecifiedIDs() string { return d.specifiedIDs }
func (Detail) sealed()                {}

func (Creator) Mode() Mode           { return ModeCreator }
func (c Creator) Common() Common     { return c.common }
func (c Creator) Target() string     { return c.creatorIDs }
func (c Creator) CreatorIDs() string { return c.creatorIDs }
func (Creator) sealed()              {}

func (s Search) MarshalJSON() ([]byte, error)  { return json.Marshal(Raw(s)) }
func (d Detail) MarshalJSON() ([]byte, error)  { return json.Marshal(Raw(d)) }
func (c Creator) MarshalJSON() ([]byte, error) { return json.Marshal(Raw(c)) }

// Check verifies r is a fully constructed request. It catches zero values of
// the variants, which the type system can not rule out.
func Check(r Request) error {
	if r == nil {
		return &ValidationError{Field: "mode", Message: "request is missing"}
	}
	errs := r.Common().check()
	if strings.TrimSpace(r.Target()) == "" {
		errs = append(errs, &ValidationError{Field: targetField(r.Mode()), Message: "must not be empty"})
	}
	return errors.Join(errs...)
}

// identifierList trims every comma separated item, drops the empty ones and
// fails when nothing is left.
func identifierList(field, value string) (string, error) {
	value = strings.ReplaceAll(value, "，", ",")
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return "", &ValidationError{Field: field, Message: "must not be empty"}
	}
	return strings.Join(items, ","), nil
}

func targetField(m Mode) string {
	switch m {
	case ModeSearch:
		return "keywords"
	case ModeDetail:
		return "specified_ids"
	case ModeCreator:
		return "creator_ids"
	}
	return "mode"
}

// RawFields is the unvalidated request shape received from callers (CLI flags,
// HTTP bodies, config jobs).
type RawFields struct {
	Mode          string `json:"mode" yaml:"mode" validate:"required,oneof=search detail creator"`
	Platform      string `json:"platform" yaml:"platform" validate:"required,oneof=xhs dy ks bili wb tieba zhihu"`
	LoginType     string `json:"login_type,omitempty" yaml:"login_type,omitempty" validate:"omitempty,oneof=qrcode phone cookie"`
	Headless      *bool  `json:"headless,omitempty" yaml:"headless,omitempty"`
	GetComment    bool   `json:"get_comment,omitempty" yaml:"get_comment,omitempty"`
	GetSubComment bool   `json:"get_sub_comment,omitempty" yaml:"get_sub_comment,omitempty"`
	SaveFormat    string `json:"save_format,omitempty" yaml:"save_format,omitempty" validate:"omitempty,oneof=json csv excel sqlite db mongodb postgres"`
	MaxComments   *int   `json:"max_comments,omitempty" yaml:"max_comments,omitempty" validate:"omitempty,min=0,max=10000"`
	StartPage     int    `json:"start_page,omitempty" yaml:"start_page,omitempty" validate:"omitempty,min=1"`
	SavePath      string `json:"save_path,omitempty" yaml:"save_path,omitempty"`
	StartDate     string `json:"start_date,omitempty" yaml:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string `json:"end_date,omitempty" yaml:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Keywords      string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	SpecifiedIDs  string `json:"specified_ids,omitempty" yaml:"specified_ids,omitempty"`
	CreatorIDs    string `json:"creator_ids,omitempty" yaml:"creator_ids,omitempty"`
}

// LinkNormalizer rewrites the identifier list of a request before it is
// validated, e.g. turning share texts into canonical content URLs.
type LinkNormalizer interface {
	NormalizeIDs(ctx context.Context, platform Platform, mode Mode, ids string) (string, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate turns raw fields into a Request. It is pure: no normalizer runs.
func Validate(raw RawFields) (Request, error) {
	return ValidateContext(context.Background(), raw, nil)
}

// ValidateContext is Validate with an optional LinkNormalizer applied to the
// identifier list of detail and creator requests.
func ValidateContext(ctx context.Context, raw RawFields, n LinkNormalizer) (Request, error) {
	if err := validate.Struct(raw); err != nil {
		return nil, fromValidator(err)
	}

	mode := Mode(raw.Mode)
	var errs []error
	for _, f := range []struct{ field, value string }{
		{"keywords", raw.Keywords},
		{"specified_ids", raw.SpecifiedIDs},
		{"creator_ids", raw.CreatorIDs},
	} {
		if f.field != targetField(mode) && strings.TrimSpace(f.value) != "" {
			errs = append(errs, &ValidationError{Field: f.field, Message: fmt.Sprintf("not allowed in %s mode", mode)})
		}
	}

	c := DefaultCommon(Platform(raw.Platform))
	if raw.LoginType != "" {
		c.LoginType = LoginType(raw.LoginType)
	}
	if raw.Headless != nil {
		c.Headless = *raw.Headless
	}
	c.GetComment = raw.GetComment
	c.GetSubComment = raw.GetSubComment
	if raw.SaveFormat != "" {
		c.SaveFormat = SaveFormat(raw.SaveFormat)
	}
	if raw.MaxComments != nil {
		c.MaxComments = *raw.MaxComments
	}
	if raw.StartPage != 0 {
		c.StartPage = raw.StartPage
	}
	c.SavePath = strings.TrimSpace(raw.SavePath)
	// format already checked by the datetime tag
	c.DateRange.From, _ = parseDate(raw.StartDate)
	c.DateRange.To, _ = parseDate(raw.EndDate)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	switch mode {
	case ModeSearch:
		return built(NewSearch(c, raw.Keywords))
	case ModeDetail:
		ids, err := normalize(ctx, n, c.Platform, mode, raw.SpecifiedIDs)
		if err != nil {
			return nil, err
		}
		return built(NewDetail(c, ids))
	case ModeCreator:
		ids, err := normalize(ctx, n, c.Platform, mode, raw.CreatorIDs)
		if err != nil {
			return nil, err
		}
		return built(NewCreator(c, ids))
	}
	return nil, &ValidationError{Field: "mode", Message: fmt.Sprintf("unsupported mode %q", raw.Mode)}
}

// built returns a nil Request when err is set.
func built[R Request](r R, err error) (Request, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

func normalize(ctx context.Context, n LinkNormalizer, p Platform, m Mode, ids string) (string, error) {
	if n == nil || strings.TrimSpace(ids) == "" {
		return ids, nil
	}
	out, err := n.NormalizeIDs(ctx, p, m, ids)
	if err != nil {
		return "", &ValidationError{Field: targetField(m), Message: err.Error()}
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

// Raw converts a request back to its raw field form. Validate(Raw(r)) yields
// a request equal to r.
func Raw(r Request) RawFields {
	c := r.Common()
	headless := c.Headless
	maxComments := c.MaxComments
	raw := RawFields{
		Mode:          string(r.Mode()),
		Platform:      string(c.Platform),
		LoginType:     string(c.LoginType),
		Headless:      &headless,
		GetComment:    c.GetComment,
		GetSubComment: c.GetSubComment,
		SaveFormat:    string(c.SaveFormat),
		MaxComments:   &maxComments,
		StartPage:     c.StartPage,
		SavePath:      c.SavePath,
	}
	if !c.DateRange.From.IsZero() {
		raw.StartDate = c.DateRange.From.Format(dateLayout)
	}
	if !c.DateRange.To.IsZero() {
		raw.EndDate = c.DateRange.To.Format(dateLayout)
	}
	switch r.Mode() {
	case ModeSearch:
		raw.Keywords = r.Target()
	case ModeDetail:
		raw.SpecifiedIDs = r.Target()
	case ModeCreator:
		raw.CreatorIDs = r.Target()
	}
	return raw
}

func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "oneof":
			msg = fmt.Sprintf("must be one of [%s], got %q", strings.ReplaceAll(fe.Param(), " ", ","), fe.Value())
		case "min":
			msg = "must be at least " + fe.Param()
		case "max":
			msg = "must be at most " + fe.Param()
		case "datetime":
			msg = "must be a date in YYYY-MM-DD format"
		default:
			msg = "failed on " + fe.Tag()
		}
		errs = append(errs, &ValidationError{Field: fe.Field(), Message: msg})
	}
	return errors.Join(errs...)
}
