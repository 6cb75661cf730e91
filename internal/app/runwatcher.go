package app

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/parsehub-runwatcher/internal/config"
	"github.com/samvad-hq/parsehub-runwatcher/internal/logger"
	"github.com/samvad-hq/parsehub-runwatcher/internal/storage"
	"github.com/samvad-hq/parsehub-runwatcher/internal/watcher"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/jobs"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/parsehub"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/publishers"
)

// RunWatcher is the long-running runtime: it owns the ParseHub client, the
// delivery store and the publishers, and drives watch cycles on a ticker.
type RunWatcher struct {
	cfg          *config.Config
	jobReg       *jobs.Registry
	fanout       *publishers.Fanout
	service      *watcher.Service
	pollInterval time.Duration
	log          logger.Logger
	store        storage.Store
}

// NewRunWatcher builds the runtime from config files.
func NewRunWatcher(ctx context.Context, cfg *config.Config, log logger.Logger) (*RunWatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := parsehub.NewClient(cfg.APIKey, parsehub.WithBaseURL(cfg.BaseURL), parsehub.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("init parsehub client: %w", err)
	}

	jobReg, err := jobs.LoadRegistry(cfg.JobsFile)
	if err != nil {
		return nil, fmt.Errorf("load jobs registry: %w", err)
	}
	enabledJobs := jobReg.Enabled()
	tokens := make([]string, 0, len(enabledJobs))
	for _, j := range enabledJobs {
		tokens = append(tokens, j.Token)
	}
	log.InfoObj("jobs registry loaded", "jobs_meta", map[string]any{
		"count":  len(tokens),
		"tokens": tokens,
	})

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabledPublishers := publisherReg.Enabled()
	if len(enabledPublishers) == 0 {
		return nil, fmt.Errorf("no publishers configured")
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	fanout := publishers.NewFanout(pubClients)
	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		DeliveryTTL:     cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"delivery_ttl_seconds":     int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	service := watcher.NewService(client, fanout, store, log, watcher.Options{
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRunDuration:    cfg.MaxRunDuration,
	})

	return &RunWatcher{
		cfg:          cfg,
		jobReg:       jobReg,
		fanout:       fanout,
		service:      service,
		pollInterval: cfg.PollInterval,
		log:          log,
		store:        store,
	}, nil
}

// Run verifies the configured jobs and then watches them until the context is cancelled.
func (w *RunWatcher) Run(ctx context.Context) error {
	if w == nil || w.service == nil {
		return fmt.Errorf("run watcher is not initialized")
	}
	defer w.close()

	jobList := w.jobReg.Enabled()
	if len(jobList) == 0 {
		w.log.WarnObj("no enabled jobs configured; run watcher idle", "jobs_file", w.cfg.JobsFile)
		<-ctx.Done()
		return ctx.Err()
	}

	missing, err := w.service.Verify(ctx, jobList)
	if err != nil {
		w.log.ErrorObj("job verification failed", "error", err)
	} else if len(missing) > 0 {
		w.log.WarnObj("configured jobs not found in account", "missing_jobs", missing)
	}

	w.log.InfoObj("run watcher loop starting", "watcher_state", map[string]any{
		"jobs_count":       len(jobList),
		"publishers_count": w.fanout.Size(),
		"poll_interval":    w.pollInterval.String(),
	})

	if err := w.runOnce(ctx, jobList); err != nil {
		w.log.ErrorObj("initial watch cycle failed", "error", err)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.InfoObj("run watcher loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := w.runOnce(ctx, jobList); err != nil {
				w.log.ErrorObj("scheduled watch cycle failed", "error", err)
			}
		}
	}
}

func (w *RunWatcher) runOnce(ctx context.Context, jobList []jobs.Job) error {
	start := time.Now()
	w.log.InfoObj("watch cycle started", "cycle_meta", map[string]any{
		"jobs_count": len(jobList),
		"started_at": start.UTC(),
	})
	if err := w.service.Run(ctx, jobList); err != nil {
		return err
	}
	w.log.InfoObj("watch cycle completed", "cycle_meta", map[string]any{
		"jobs_count": len(jobList),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// close releases the store and publisher clients, logging any errors encountered.
func (w *RunWatcher) close() {
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if err := w.fanout.Close(); err != nil {
		w.log.ErrorObj("publishers close failed", "error", err)
	}
}
