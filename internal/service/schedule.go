package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/lizheng/media-analyst/internal/model"
)

// AddJobs registers recurring jobs. They start running with Do.
func (s *Supervisor) AddJobs(ctx context.Context, jobs ...model.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	s.jobsMx.Lock()
	defer s.jobsMx.Unlock()

	if s.scheduler == nil {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("initializing gocron scheduler: %w", err)
		}
		s.scheduler = scheduler
	}

	for _, j := range jobs {
		if _, ok := s.jobs[j.Name]; ok {
			return fmt.Errorf("job %q already added", j.Name)
		}
		def, err := j.Definition()
		if err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		var jd gocron.JobDefinition
		switch {
		case def.Cron != "":
			jd = gocron.CronJob(def.Cron, false)
		default:
			jd = gocron.DurationJob(def.Every)
		}
		name := j.Name
		_, err = s.scheduler.NewJob(
			jd,
			gocron.NewTask(func() {
				_, err := s.RunJob(ctx, name)
				switch {
				case errors.Is(err, model.ErrJobInProgress):
					slog.WarnContext(ctx, "previous run still active: skipping", "job_name", name)
				case err != nil:
					slog.ErrorContext(ctx, "scheduled job failed to start", "job_name", name, "error", err)
				}
			}),
			gocron.WithName(name),
		)
		if err != nil {
			return fmt.Errorf("initializing gocron job %q: %w", j.Name, err)
		}
		s.jobs[j.Name] = j
		slog.DebugContext(ctx, "job scheduled", "job_name", j.Name, "cron", def.Cron, "every", def.Every.String())
	}
	return nil
}

// RunJob starts the named job now, unless its previous execution is still
// active. The job lock is only held to reserve the run, not while starting it.
func (s *Supervisor) RunJob(ctx context.Context, name string) (*Handle, error) {
	j, err := s.reserveJob(name)
	if err != nil {
		return nil, err
	}

	h, err := s.StartRaw(ctx, j.Request)

	s.jobsMx.Lock()
	defer s.jobsMx.Unlock()
	if h != nil {
		s.jobRuns[name] = h.ID()
	} else {
		delete(s.jobRuns, name)
	}
	return h, err
}

// reserveJob marks the job as starting. An empty id in jobRuns is a run
// being started.
func (s *Supervisor) reserveJob(name string) (model.Job, error) {
	s.jobsMx.Lock()
	defer s.jobsMx.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return model.Job{}, fmt.Errorf("job %q: %w", name, model.ErrNotFound)
	}
	if id, ok := s.jobRuns[name]; ok {
		if id == "" {
			return model.Job{}, fmt.Errorf("job %q: %w", name, model.ErrJobInProgress)
		}
		if snap, err := s.registry.Get(id); err == nil && !snap.Status.Terminal() {
			return model.Job{}, fmt.Errorf("job %q: %w", name, model.ErrJobInProgress)
		}
	}
	s.jobRuns[name] = ""
	return j, nil
}

// Jobs returns the names of the registered jobs.
func (s *Supervisor) Jobs() []string {
	s.jobsMx.Lock()
	defer s.jobsMx.Unlock()
	return slices.Sorted(maps.Keys(s.jobs))
}
