package model_test

import (
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  time.Duration
	}{
		{"PT2H", 2 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
		{"PT0.5S", 500 * time.Millisecond},
		{"P1DT1S", 24*time.Hour + time.Second},
		{"90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"2d", 48 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{"PT1,5S", 1500 * time.Millisecond},
		{"P2D", 48 * time.Hour},
		{" PT30M ", 30 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			t.Parallel()
			d, err := model.ParseDuration(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, d)
		})
	}

	for _, bad := range []string{"", "P", "PT", "P2DT", "P2M", "P1H", "PT-1H", "P999999999999D", "forever", "1d2x", "1d-1h"} {
		_, err := model.ParseDuration(bad)
		require.Error(t, err, bad)
	}
	_, err := model.ParseDuration("PT1H2")
	require.ErrorIs(t, err, model.ErrISOFormat)
}

func TestParseCron(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"*/15 * * * *", "@hourly", "@every 5m", " 0 8 * * 1-5 "} {
		require.NoError(t, model.ParseCron(ok), ok)
	}
	require.EqualError(t, model.ParseCron(""), "empty cron expression")
	require.Error(t, model.ParseCron("* * *"))
	require.Error(t, model.ParseCron("* * 32 * *"))
}
