package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/lizheng/media-analyst/internal/model"
)

// ConfigFromModel resolves the worker section of the configuration. An empty
// worker dir is discovered relative to the current directory.
func ConfigFromModel(w model.Worker) (Config, error) {
	timeout, grace, settle, err := w.Durations()
	if err != nil {
		return Config{}, err
	}
	dir := w.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("getting working directory: %w", err)
		}
		dir, err = model.DiscoverWorkerDir(cwd)
		if err != nil {
			return Config{}, fmt.Errorf("worker.dir is not set: %w", err)
		}
	}
	cfg := Config{
		Command: w.Command,
		Dir:     dir,
		Env:     environ(w.Env),
		Timeout: timeout,
		Grace:   grace,
		Settle:  settle,
		Flags:   w.FlagTable(),
	}
	if w.ExpectOutputs {
		cfg.Layout = MediaCrawlerLayout{}
	}
	return cfg, nil
}

func environ(env map[string]string) []string {
	ret := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		v := env[k]
		if strings.Contains(v, "$") {
			v = os.ExpandEnv(v)
		}
		ret = append(ret, k+"="+v)
	}
	return ret
}

// SupervisorFromConfig builds a supervisor with the sinks and jobs of cfg.
// Extra options, e.g. a history store or metrics, are applied on top.
func SupervisorFromConfig(ctx context.Context, cfg model.Config, opts ...Option) (*Supervisor, error) {
	scfg, err := ConfigFromModel(cfg.Worker)
	if err != nil {
		return nil, err
	}

	if cfg.Service.Dir != "" {
		sink, err := NewDirSink(cfg.Service.Dir)
		if err != nil {
			return nil, fmt.Errorf("initializing summary directory: %w", err)
		}
		opts = append([]Option{WithSinks(sink)}, opts...)
	}

	s, err := NewSupervisor(scfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.AddJobs(ctx, cfg.Jobs...); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	slog.DebugContext(ctx, "supervisor configured",
		"dir", scfg.Dir,
		"command", scfg.Command,
		"timeout", scfg.Timeout.String(),
		"jobs", len(cfg.Jobs),
	)
	return s, nil
}
