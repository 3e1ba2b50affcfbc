package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	regexp "github.com/wasilibs/go-re2"
)

// ParseCron checks a cron expression with 5 fields or a descriptor such as
// @hourly or @every 5m.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}
	// ParseStandard handles both descriptors and plain 5-field specs
	_, err := cron.ParseStandard(e)
	return err
}

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// ParseDuration accepts ISO-8601 durations (PT1H30M), Go durations (1h30m)
// and whole day prefixes (2d12h).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, errors.New("empty duration")
	case strings.HasPrefix(s, "P"):
		return ParseISODuration(s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	m := dayDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	d, err := withDays(m[1], m[2])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

var dayDurationRx = regexp.MustCompile(`^(\d+)d(.*)$`)

// PnDTnHnMnS, only the seconds may have a fraction. The T designator is
// required before time components, so P2M (months) is rejected.
var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)

// ParseISODuration parses the day and time subset of ISO-8601 durations.
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationRx.FindStringSubmatch(s)
	// a designator without any component: P, PT, P2DT
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("%w: %q", ErrISOFormat, s)
	}
	var sb strings.Builder
	for i, unit := range []string{"h", "m", "s"} {
		if v := m[i+2]; v != "" {
			sb.WriteString(strings.Replace(v, ",", ".", 1))
			sb.WriteString(unit)
		}
	}
	d, err := withDays(m[1], sb.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrISOFormat, s, err)
	}
	return d, nil
}

// withDays returns days (decimal, may be empty) plus the Go duration rest
// (may be empty).
func withDays(days, rest string) (time.Duration, error) {
	var total time.Duration
	if days != "" {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil || n > math.MaxInt64/int64(24*time.Hour) {
			return 0, errors.New("too many days")
		}
		total = time.Duration(n) * 24 * time.Hour
	}
	if rest == "" {
		return total, nil
	}
	d, err := time.ParseDuration(rest)
	if err != nil {
		return 0, err
	}
	if d < 0 || total > time.Duration(math.MaxInt64)-d {
		return 0, errors.New("duration overflow")
	}
	return total + d, nil
}
