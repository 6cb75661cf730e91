package publishers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/parsehub"
)

// Event is the payload published downstream when a run's results are collected.
type Event struct {
	ID          string          `json:"id"`
	JobToken    string          `json:"job_token"`
	JobName     string          `json:"job_name"`
	Run         parsehub.Run    `json:"run"`
	Results     json.RawMessage `json:"results,omitempty"`
	CollectedAt time.Time       `json:"collected_at"`
}

// NewEvent constructs an Event for a finished run and its result scope.
func NewEvent(jobToken, jobName string, run parsehub.Run, results json.RawMessage) Event {
	return Event{
		ID:          uuid.NewString(),
		JobToken:    jobToken,
		JobName:     jobName,
		Run:         run,
		Results:     results,
		CollectedAt: time.Now().UTC(),
	}
}

// attributes are the message attributes attached by queue/topic sinks. Empty
// values are omitted.
func (e Event) attributes() map[string]string {
	attrs := map[string]string{
		"event_id":   e.ID,
		"job_token":  e.JobToken,
		"run_token":  e.Run.RunToken,
		"run_status": e.Run.Status,
	}
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	return attrs
}
