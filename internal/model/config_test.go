package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lizheng/media-analyst/internal/model"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
worker:
  dir: /opt/MediaCrawler
  command: [python, main.py]
  timeout: 30m
  grace: PT3S
  env:
    PYTHONUNBUFFERED: "1"
  platforms:
    dy: douyin
service:
  log: stderr
  history: /var/lib/media-analyst/history.db
  resolver:
    enabled: true
    rate: 5
jobs:
  - name: daily-food
    cron: "0 8 * * *"
    request:
      mode: search
      platform: dy
      keywords: 美食
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "/opt/MediaCrawler", cfg.Worker.Dir)
	require.Equal(t, []string{"python", "main.py"}, cfg.Worker.Command)
	require.Equal(t, "1", cfg.Worker.Env["PYTHONUNBUFFERED"])
	require.True(t, cfg.Worker.ExpectOutputs)
	require.Equal(t, model.LogStderr, cfg.Service.Log)
	require.Equal(t, "127.0.0.1:8080", cfg.Service.Listen)
	require.True(t, cfg.Service.Resolver.Enabled)
	require.InDelta(t, 5.0, cfg.Service.Resolver.Rate, 0.001)
	require.Equal(t, 2, cfg.Service.Resolver.Retries)

	timeout, grace, settle, err := cfg.Worker.Durations()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, timeout)
	require.Equal(t, 3*time.Second, grace)
	require.Equal(t, time.Second, settle)

	require.Equal(t, "douyin", cfg.Worker.FlagTable().Platforms[model.PlatformDY])

	require.Len(t, cfg.Jobs, 1)
	def, err := cfg.Jobs[0].Definition()
	require.NoError(t, err)
	require.Equal(t, "0 8 * * *", def.Cron)
	req, err := model.Validate(cfg.Jobs[0].Request)
	require.NoError(t, err)
	require.Equal(t, "美食", req.Target())
}

func TestLoadConfig_Fail(t *testing.T) {
	cases := []struct {
		scenario string
		given    string
		path     string
	}{
		{"unknown platform", `
version: 0
jobs:
  - name: x
    every: 1h
    request: {mode: search, platform: tiktok, keywords: a}
`, "jobs.0.request.platform"},
		{"unknown field", `
version: 0
worker:
  binary: uv
`, "worker.binary"},
		{"bad duration", `
version: 0
worker:
  timeout: forever
`, "worker.timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tc.given))
			require.Error(t, err)
			issues := model.Issues(err)
			require.NotEmpty(t, issues)
			var paths []string
			for _, iss := range issues {
				paths = append(paths, iss.Path)
				require.NotEmpty(t, iss.String())
			}
			require.Contains(t, paths, tc.path)
		})
	}
}

func TestLoadConfig_EnumIssue(t *testing.T) {
	_, err := model.LoadConfig(strings.NewReader(`
version: 0
jobs:
  - name: x
    every: 1h
    request: {mode: search, platform: tiktok, keywords: a}
`))
	require.Error(t, err)
	var found bool
	for _, iss := range model.Issues(err) {
		if iss.Path != "jobs.0.request.platform" {
			continue
		}
		found = true
		require.NotEqual(t, model.IssueUnknownField, iss.Kind)
		require.Contains(t, iss.Message, ", one of ")
		require.Contains(t, iss.Message, "tieba")
		require.Contains(t, iss.String(), "jobs.0.request.platform: ")
	}
	require.True(t, found)
	require.Nil(t, model.Issues(errors.New("plain")))
}

func TestLoadConfig_Jobs(t *testing.T) {
	cases := []struct {
		scenario string
		given    string
		err      string
	}{
		{"both schedules", `
version: 0
jobs:
  - name: x
    cron: "@hourly"
    every: 1h
    request: {mode: search, platform: dy, keywords: a}
`, "mutually exclusive"},
		{"no schedule", `
version: 0
jobs:
  - name: x
    request: {mode: search, platform: dy, keywords: a}
`, "one of cron or every is required"},
		{"bad cron", `
version: 0
jobs:
  - name: x
    cron: "61 * * * *"
    request: {mode: search, platform: dy, keywords: a}
`, "cron"},
		{"duplicate", `
version: 0
jobs:
  - name: x
    every: 1h
    request: {mode: search, platform: dy, keywords: a}
  - name: x
    every: 2h
    request: {mode: search, platform: dy, keywords: b}
`, "duplicate name"},
		{"invalid request", `
version: 0
jobs:
  - name: x
    every: 1h
    request: {mode: search, platform: dy}
`, "invalid keywords"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tc.given))
			require.Error(t, err)
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	require.Equal(t, []string{"uv", "run", "main.py"}, cfg.Worker.Command)
	require.Equal(t, "PT2H", cfg.Worker.Timeout)
	require.Equal(t, "PT5S", cfg.Worker.Grace)
	require.Equal(t, "PT1S", cfg.Worker.Settle)
	require.True(t, cfg.Worker.ExpectOutputs)
	require.Equal(t, model.LogStderr, cfg.Service.Log)
	require.True(t, cfg.Service.Metrics)
	require.False(t, cfg.Service.Resolver.Enabled)
	require.Equal(t, "PT10S", cfg.Service.Resolver.Timeout)
	require.Empty(t, cfg.Jobs)
}
