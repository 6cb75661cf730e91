package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samvad-hq/parsehub-runwatcher/internal/registryfile"
)

// Package jobs loads the set of ParseHub jobs the watcher tracks (YAML/JSON).

// Job is a single watched job entry.
type Job struct {
	Token   string `json:"token" yaml:"token"`
	Name    string `json:"name" yaml:"name"`
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	// Trigger starts a new run on every watch cycle when no run is in flight.
	Trigger            bool           `json:"trigger" yaml:"trigger"`
	StartURL           string         `json:"start_url" yaml:"start_url"`
	StartValueOverride map[string]any `json:"start_value_override" yaml:"start_value_override"`
	Format             string         `json:"format" yaml:"format"`
}

type configFile struct {
	Jobs []Job `json:"jobs" yaml:"jobs"`
}

// Registry holds validated job entries keyed by token.
type Registry struct {
	mu   sync.RWMutex
	jobs []Job
	idx  map[string]Job
}

// LoadRegistry loads the jobs registry from a YAML or JSON file.
func LoadRegistry(path string) (*Registry, error) {
	var f configFile
	if err := registryfile.Load(path, "jobs", &f); err != nil {
		return nil, err
	}
	return NewRegistry(f.Jobs)
}

// NewRegistry validates entries and builds a registry from them.
func NewRegistry(entries []Job) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("jobs file contains no jobs entries")
	}

	reg := &Registry{
		jobs: make([]Job, len(entries)),
		idx:  make(map[string]Job, len(entries)),
	}
	for i := range entries {
		j := sanitizeJob(entries[i])
		if err := validateJob(j); err != nil {
			return nil, fmt.Errorf("job[%d]: %w", i, err)
		}
		if _, exists := reg.idx[j.Token]; exists {
			return nil, fmt.Errorf("duplicate job token %q", j.Token)
		}
		reg.jobs[i] = j
		reg.idx[j.Token] = j
	}
	return reg, nil
}

func sanitizeJob(j Job) Job {
	j.Token = strings.TrimSpace(j.Token)
	j.Name = strings.TrimSpace(j.Name)
	j.StartURL = strings.TrimSpace(j.StartURL)
	j.Format = strings.ToLower(strings.TrimSpace(j.Format))

	if j.Enabled == nil {
		def := true
		j.Enabled = &def
	}
	if j.Name == "" {
		j.Name = j.Token
	}
	return j
}

func validateJob(j Job) error {
	if j.Token == "" {
		return errors.New("token is required")
	}
	switch j.Format {
	case "", "json":
	case "csv":
		return fmt.Errorf("job %q: csv results cannot be delivered as JSON events", j.Token)
	default:
		return fmt.Errorf("unsupported format %q for job %q", j.Format, j.Token)
	}
	return nil
}

// ByToken returns the job entry for the given token, if loaded.
func (r *Registry) ByToken(token string) (Job, bool) {
	if r == nil {
		return Job{}, false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Job{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.idx[token]
	return j, ok
}

// All returns a copy of every configured job.
func (r *Registry) All() []Job {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Enabled returns jobs that are enabled.
func (r *Registry) Enabled() []Job {
	all := r.All()
	if len(all) == 0 {
		return nil
	}

	out := make([]Job, 0, len(all))
	for _, j := range all {
		if j.EnabledValue() {
			out = append(out, j)
		}
	}
	return out
}

// EnabledValue returns the enabled flag defaulting to true.
func (j Job) EnabledValue() bool {
	if j.Enabled == nil {
		return true
	}
	return *j.Enabled
}

// StartValueJSON encodes StartValueOverride for the run request. Empty when unset.
func (j Job) StartValueJSON() (string, error) {
	if len(j.StartValueOverride) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(j.StartValueOverride)
	if err != nil {
		return "", fmt.Errorf("encode start_value_override for job %q: %w", j.Token, err)
	}
	return string(raw), nil
}
