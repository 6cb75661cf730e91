package parsehub

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Run statuses reported by the service. The set is owned by ParseHub; unknown
// values are passed through untouched.
const (
	StatusInitialized = "initialized"
	StatusQueued      = "queued"
	StatusRunning     = "running"
	StatusCancelled   = "cancelled"
	StatusComplete    = "complete"
	StatusError       = "error"
)

// Job is a persistent scrape configuration (a ParseHub "project").
//
// Decoding is lenient: a field whose JSON type does not match is coerced when
// possible and left zero otherwise. Raw keeps the object as the service sent it.
type Job struct {
	Token         string `json:"token"`
	Title         string `json:"title,omitempty"`
	MainSite      string `json:"main_site,omitempty"`
	MainTemplate  string `json:"main_template,omitempty"`
	OptionsJSON   string `json:"options_json,omitempty"`
	TemplatesJSON string `json:"templates_json,omitempty"`
	LastRun       *Run   `json:"last_run,omitempty"`
	LastReadyRun  *Run   `json:"last_ready_run,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Run is one execution of a Job. Like Job, it decodes leniently and keeps the
// full service object in Raw.
type Run struct {
	ProjectToken  string `json:"project_token,omitempty"`
	RunToken      string `json:"run_token"`
	Status        string `json:"status,omitempty"`
	DataReady     bool   `json:"data_ready,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	Pages         int    `json:"pages,omitempty"`
	MD5Sum        string `json:"md5sum,omitempty"`
	StartURL      string `json:"start_url,omitempty"`
	StartTemplate string `json:"start_template,omitempty"`
	StartValue    string `json:"start_value,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsTerminal reports whether the run has stopped and will not change status again.
func (r Run) IsTerminal() bool {
	switch r.Status {
	case StatusComplete, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Fields returns the top-level members of the raw object, or nil when the
// service sent something other than an object.
func (r Run) Fields() map[string]json.RawMessage { return objectFields(r.Raw) }

// UnmarshalJSON never fails on well-formed JSON.
func (r *Run) UnmarshalJSON(data []byte) error {
	*r = Run{Raw: cloneRaw(data)}
	f := objectFields(data)
	if f == nil {
		return nil
	}
	r.ProjectToken = looseString(f["project_token"])
	r.RunToken = looseString(f["run_token"])
	r.Status = looseString(f["status"])
	r.DataReady = looseBool(f["data_ready"])
	r.StartTime = looseString(f["start_time"])
	r.EndTime = looseString(f["end_time"])
	r.Pages = looseInt(f["pages"])
	r.MD5Sum = looseString(f["md5sum"])
	r.StartURL = looseString(f["start_url"])
	r.StartTemplate = looseString(f["start_template"])
	r.StartValue = looseString(f["start_value"])
	return nil
}

// Fields returns the top-level members of the raw object.
func (j Job) Fields() map[string]json.RawMessage { return objectFields(j.Raw) }

// UnmarshalJSON never fails on well-formed JSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	*j = Job{Raw: cloneRaw(data)}
	f := objectFields(data)
	if f == nil {
		return nil
	}
	j.Token = looseString(f["token"])
	j.Title = looseString(f["title"])
	j.MainSite = looseString(f["main_site"])
	j.MainTemplate = looseString(f["main_template"])
	j.OptionsJSON = looseString(f["options_json"])
	j.TemplatesJSON = looseString(f["templates_json"])
	j.LastRun = looseRun(f["last_run"])
	j.LastReadyRun = looseRun(f["last_ready_run"])
	return nil
}

func objectFields(data []byte) map[string]json.RawMessage {
	var f map[string]json.RawMessage
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	return f
}

func cloneRaw(data []byte) json.RawMessage {
	if isNull(data) {
		return nil
	}
	return append(json.RawMessage(nil), data...)
}

func isNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || string(data) == "null"
}

// looseString returns strings as-is and any other scalar as its JSON text.
func looseString(data json.RawMessage) string {
	if isNull(data) {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(data))
}

// looseBool accepts booleans, numbers and their string forms (0/1, true/false).
func looseBool(data json.RawMessage) bool {
	if isNull(data) {
		return false
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return b
	}
	s := looseString(data)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n != 0
	}
	return false
}

// looseInt accepts integers, floats and numeric strings.
func looseInt(data json.RawMessage) int {
	if isNull(data) {
		return 0
	}
	n, err := strconv.ParseFloat(looseString(data), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int(n)
}

func looseRun(data json.RawMessage) *Run {
	if isNull(data) {
		return nil
	}
	var r Run
	_ = r.UnmarshalJSON(data)
	return &r
}
