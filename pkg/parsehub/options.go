package parsehub

const (
	paramAPIKey             = "api_key"
	paramToken              = "token"
	paramRunToken           = "run_token"
	paramIncludeLastRun     = "include_last_run"
	paramStartURL           = "start_url"
	paramStartValueOverride = "start_value_override"
	paramFormat             = "format"
	paramRaw                = "raw"
)

// Result formats accepted by GetResults.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ListJobsOptions configures ListJobs.
type ListJobsOptions struct {
	// IncludeLastRun embeds each job's most recent run as Job.LastRun.
	IncludeLastRun bool
	// Params carries extra fields sent verbatim. api_key is always overwritten.
	Params map[string]string
}

// DeleteJobOptions configures DeleteJob.
type DeleteJobOptions struct {
	Token  string
	Params map[string]string
}

// RunJobOptions configures RunJob.
type RunJobOptions struct {
	Token string
	// StartURL starts the run here instead of the job's default start URL.
	StartURL string
	// StartValueOverride is JSON text replacing the starting global scope,
	// e.g. {"query": "San Francisco"}.
	StartValueOverride string
	Params             map[string]string
}

// RunStatusOptions configures GetRunStatus.
type RunStatusOptions struct {
	RunToken string
	Params   map[string]string
}

// StatusOptions configures GetStatus.
type StatusOptions struct {
	Token  string
	Params map[string]string
}

// CancelRunOptions configures CancelRun.
type CancelRunOptions struct {
	RunToken string
	Params   map[string]string
}

// ResultsOptions configures GetResults. Raw mode is always requested;
// zipped archives are not supported.
type ResultsOptions struct {
	RunToken string
	// Format is FormatJSON or FormatCSV. Empty leaves the service default.
	Format string
	Params map[string]string
}

func (o DeleteJobOptions) validate() error { return requireValue(o.Token, "job token") }
func (o RunJobOptions) validate() error    { return requireValue(o.Token, "job token") }
func (o RunStatusOptions) validate() error { return requireValue(o.RunToken, "run token") }
func (o StatusOptions) validate() error    { return requireValue(o.Token, "job token") }
func (o CancelRunOptions) validate() error { return requireValue(o.RunToken, "run token") }
func (o ResultsOptions) validate() error   { return requireValue(o.RunToken, "run token") }

func requireValue(v, what string) error {
	if v == "" {
		return missing(what)
	}
	return nil
}

func (o ListJobsOptions) params() map[string]string {
	p := copyParams(o.Params)
	if o.IncludeLastRun {
		p[paramIncludeLastRun] = "1"
	}
	return p
}

func (o DeleteJobOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramToken] = o.Token
	return p
}

func (o RunJobOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramToken] = o.Token
	setIfPresent(p, paramStartURL, o.StartURL)
	setIfPresent(p, paramStartValueOverride, o.StartValueOverride)
	return p
}

func (o RunStatusOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramRunToken] = o.RunToken
	return p
}

func (o StatusOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramToken] = o.Token
	return p
}

func (o CancelRunOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramRunToken] = o.RunToken
	return p
}

func (o ResultsOptions) params() map[string]string {
	p := copyParams(o.Params)
	p[paramRunToken] = o.RunToken
	setIfPresent(p, paramFormat, o.Format)
	p[paramRaw] = "1"
	return p
}

// copyParams never mutates the caller's map.
func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func setIfPresent(p map[string]string, key, value string) {
	if value != "" {
		p[key] = value
	}
}
