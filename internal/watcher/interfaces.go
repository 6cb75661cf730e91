package watcher

import (
	"context"
	"encoding/json"

	"github.com/samvad-hq/parsehub-runwatcher/internal/storage"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/parsehub"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/publishers"
)

// API is the subset of the ParseHub client the watcher drives.
type API interface {
	ListJobs(ctx context.Context, opts parsehub.ListJobsOptions) ([]parsehub.Job, error)
	RunJob(ctx context.Context, opts parsehub.RunJobOptions) (string, error)
	GetStatus(ctx context.Context, opts parsehub.StatusOptions) ([]parsehub.Run, error)
	CancelRun(ctx context.Context, opts parsehub.CancelRunOptions) (string, error)
	GetResults(ctx context.Context, opts parsehub.ResultsOptions) (json.RawMessage, error)
}

// EventPublisher publishes run results downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Deliveries remembers runs whose results were already published.
type Deliveries interface {
	Delivered(runToken string) (bool, error)
	MarkDelivered(d storage.Delivery) error
}
