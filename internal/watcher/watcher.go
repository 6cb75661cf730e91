package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/parsehub-runwatcher/internal/logger"
	"github.com/samvad-hq/parsehub-runwatcher/internal/storage"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/jobs"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/parsehub"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/publishers"
	"golang.org/x/time/rate"
)

var errNoPublisher = errors.New("no publisher accepted the event")

// ParseHub reports start times in UTC without a zone suffix.
const startTimeLayout = "2006-01-02T15:04:05"

// Options tunes a Service.
type Options struct {
	// RequestsPerSecond paces calls to the API. Zero disables pacing.
	RequestsPerSecond float64
	// MaxRunDuration cancels runs still in flight after this long. Zero disables it.
	MaxRunDuration time.Duration
}

// Service walks the configured jobs, starting runs, cancelling overdue ones
// and publishing the results of completed runs exactly once.
type Service struct {
	api        API
	publisher  EventPublisher
	deliveries Deliveries
	log        logger.Logger
	limiter    *rate.Limiter
	maxRun     time.Duration
	now        func() time.Time
}

// NewService wires a watcher around the API client.
func NewService(api API, pub EventPublisher, deliveries Deliveries, log logger.Logger, opts Options) *Service {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if deliveries == nil {
		deliveries, _ = storage.NewStore("none", "", storage.Options{})
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Service{
		api:        api,
		publisher:  pub,
		deliveries: deliveries,
		log:        log,
		limiter:    limiter,
		maxRun:     opts.MaxRunDuration,
		now:        time.Now,
	}
}

// Verify checks that every configured job exists in the account and returns
// the tokens that do not.
func (s *Service) Verify(ctx context.Context, cfgs []jobs.Job) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	remote, err := s.api.ListJobs(ctx, parsehub.ListJobsOptions{IncludeLastRun: true})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	known := make(map[string]parsehub.Job, len(remote))
	for _, j := range remote {
		known[j.Token] = j
	}

	var missing []string
	for _, cfg := range cfgs {
		j, ok := known[cfg.Token]
		if !ok {
			missing = append(missing, cfg.Token)
			continue
		}
		meta := map[string]any{"job_token": cfg.Token, "title": j.Title}
		if j.LastRun != nil {
			meta["last_run_token"] = j.LastRun.RunToken
			meta["last_run_status"] = j.LastRun.Status
		}
		s.log.InfoObj("job verified", "job_meta", meta)
	}
	return missing, nil
}

// Run executes one watch cycle over the given jobs.
func (s *Service) Run(ctx context.Context, cfgs []jobs.Job) error {
	if s == nil || s.api == nil {
		return fmt.Errorf("watcher service is not initialized")
	}
	if len(cfgs) == 0 {
		return fmt.Errorf("no jobs configured for watching")
	}

	if errs := s.runAll(ctx, cfgs); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (s *Service) runAll(ctx context.Context, cfgs []jobs.Job) []error {
	errs := make([]error, 0, len(cfgs))
	for _, cfg := range cfgs {
		if ctx.Err() != nil {
			break
		}
		if err := s.watchJob(ctx, cfg); err != nil {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, err)
			s.log.ErrorObj("job watch failed", "job_error", map[string]any{
				"job_token": cfg.Token,
				"error":     err.Error(),
			})
		}
	}
	return errs
}

func (s *Service) watchJob(ctx context.Context, cfg jobs.Job) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	runs, err := s.api.GetStatus(ctx, parsehub.StatusOptions{Token: cfg.Token})
	if err != nil {
		return fmt.Errorf("status of job %s: %w", cfg.Token, err)
	}

	var (
		errs      []error
		inFlight  bool
		delivered int
	)
	for _, run := range runs {
		switch {
		case !run.IsTerminal():
			cancelled, err := s.cancelIfOverdue(ctx, cfg, run)
			if err != nil {
				errs = append(errs, err)
			}
			if !cancelled {
				inFlight = true
			}
		case run.Status == parsehub.StatusComplete && bool(run.DataReady):
			ok, err := s.deliver(ctx, cfg, run)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				delivered++
			}
		}
	}

	if cfg.Trigger && !inFlight {
		if err := s.trigger(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.InfoObj("job watch completed", "job_result", map[string]any{
		"job_token":      cfg.Token,
		"runs_seen":      len(runs),
		"runs_delivered": delivered,
		"run_in_flight":  inFlight,
	})
	return errors.Join(errs...)
}

// deliver publishes a completed run once. It reports whether an event went out.
func (s *Service) deliver(ctx context.Context, cfg jobs.Job, run parsehub.Run) (bool, error) {
	done, err := s.deliveries.Delivered(run.RunToken)
	if err != nil {
		// Lookup failures publish anyway.
		s.log.WarnObj("delivery lookup failed", "delivery_error", map[string]any{
			"run_token": run.RunToken,
			"error":     err.Error(),
		})
	} else if done {
		return false, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	results, err := s.api.GetResults(ctx, parsehub.ResultsOptions{RunToken: run.RunToken, Format: cfg.Format})
	if err != nil {
		return false, fmt.Errorf("results of run %s: %w", run.RunToken, err)
	}

	evt := publishers.NewEvent(cfg.Token, cfg.Name, run, results)
	if s.publisher == nil {
		return false, fmt.Errorf("publish run %s: %w", run.RunToken, errNoPublisher)
	}
	sent, err := s.publisher.Publish(ctx, evt)
	if sent == 0 {
		// The run stays pending so a later cycle can retry it.
		if err == nil {
			err = errNoPublisher
		}
		return false, fmt.Errorf("publish run %s: %w", run.RunToken, err)
	}
	if err != nil {
		s.log.WarnObj("run published with partial failures", "publish_error", map[string]any{
			"run_token":  run.RunToken,
			"successful": sent,
			"error":      err.Error(),
		})
	}

	if err := s.deliveries.MarkDelivered(storage.Delivery{
		RunToken: run.RunToken,
		JobToken: cfg.Token,
		MD5Sum:   run.MD5Sum,
	}); err != nil {
		return true, fmt.Errorf("mark run %s delivered: %w", run.RunToken, err)
	}

	s.log.InfoObj("run delivered", "run_meta", map[string]any{
		"job_token": cfg.Token,
		"run_token": run.RunToken,
		"event_id":  evt.ID,
		"pages":     run.Pages,
	})
	return true, nil
}

// cancelIfOverdue cancels a run that has been in flight longer than maxRun.
func (s *Service) cancelIfOverdue(ctx context.Context, cfg jobs.Job, run parsehub.Run) (bool, error) {
	if s.maxRun <= 0 || run.StartTime == "" {
		return false, nil
	}
	started, err := parseStartTime(run.StartTime)
	if err != nil {
		s.log.DebugObj("run start time unparseable", "run_meta", map[string]any{
			"run_token":  run.RunToken,
			"start_time": run.StartTime,
		})
		return false, nil
	}
	age := s.now().Sub(started)
	if age < s.maxRun {
		return false, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	if _, err := s.api.CancelRun(ctx, parsehub.CancelRunOptions{RunToken: run.RunToken}); err != nil {
		return false, fmt.Errorf("cancel run %s: %w", run.RunToken, err)
	}
	s.log.WarnObj("overdue run cancelled", "run_meta", map[string]any{
		"job_token": cfg.Token,
		"run_token": run.RunToken,
		"age":       age.String(),
	})
	return true, nil
}

func (s *Service) trigger(ctx context.Context, cfg jobs.Job) error {
	startValue, err := cfg.StartValueJSON()
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	runToken, err := s.api.RunJob(ctx, parsehub.RunJobOptions{
		Token:              cfg.Token,
		StartURL:           cfg.StartURL,
		StartValueOverride: startValue,
	})
	if err != nil {
		return fmt.Errorf("run job %s: %w", cfg.Token, err)
	}
	s.log.InfoObj("run started", "run_meta", map[string]any{
		"job_token": cfg.Token,
		"run_token": runToken,
	})
	return nil
}

func parseStartTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(startTimeLayout, v)
}
