package parsehub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samvad-hq/parsehub-runwatcher/pkg/httpclient"
)

type fakeResponse struct {
	status int
	body   []byte
}

func (f fakeResponse) Body() []byte    { return f.body }
func (f fakeResponse) StatusCode() int { return f.status }

// fakeTransport answers every call with the same response and records the request.
type fakeTransport struct {
	mu     sync.Mutex
	status int
	body   string
	err    error

	calls  int
	method string
	url    string
	params map[string]string
}

func (f *fakeTransport) record(method, url string, params map[string]string) (httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.method = method
	f.url = url
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return fakeResponse{status: f.status, body: []byte(f.body)}, nil
}

func (f *fakeTransport) Get(_ context.Context, url string, _, query map[string]string) (httpclient.Response, error) {
	return f.record(http.MethodGet, url, query)
}

func (f *fakeTransport) PostForm(_ context.Context, url string, _, form map[string]string) (httpclient.Response, error) {
	return f.record(http.MethodPost, url, form)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ignoreRaw compares the typed view only.
var ignoreRaw = cmp.Options{cmpopts.IgnoreFields(Job{}, "Raw"), cmpopts.IgnoreFields(Run{}, "Raw")}

func newTestClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c, err := NewClient("key-123", WithHTTPClient(ft))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// everyOperation invokes each client operation with valid input.
func everyOperation(c *Client) map[string]func() error {
	ctx := context.Background()
	return map[string]func() error{
		"ListJobs": func() error { _, err := c.ListJobs(ctx, ListJobsOptions{}); return err },
		"DeleteJob": func() error {
			_, err := c.DeleteJob(ctx, DeleteJobOptions{Token: "t"})
			return err
		},
		"RunJob": func() error { _, err := c.RunJob(ctx, RunJobOptions{Token: "t"}); return err },
		"GetRunStatus": func() error {
			_, err := c.GetRunStatus(ctx, RunStatusOptions{RunToken: "r"})
			return err
		},
		"GetStatus": func() error { _, err := c.GetStatus(ctx, StatusOptions{Token: "t"}); return err },
		"CancelRun": func() error {
			_, err := c.CancelRun(ctx, CancelRunOptions{RunToken: "r"})
			return err
		},
		"GetResults": func() error {
			_, err := c.GetResults(ctx, ResultsOptions{RunToken: "r"})
			return err
		},
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	c, err := NewClient("")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("NewClient(\"\") err = %v, want ErrMissingAPIKey", err)
	}
	if c != nil {
		t.Fatalf("expected nil client for empty key")
	}

	// Only the empty string counts as missing.
	if _, err := NewClient(" "); err != nil {
		t.Fatalf("NewClient(\" \"): %v", err)
	}
}

func TestNonEmptyWhitespaceIdentifiersAreSent(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"runList":[]}`}
	if _, err := newTestClient(t, ft).GetStatus(context.Background(), StatusOptions{Token: " "}); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if ft.callCount() != 1 || ft.params["token"] != " " {
		t.Fatalf("expected one call with token %q, got %d calls params=%v", " ", ft.callCount(), ft.params)
	}
}

func TestOperationsRejectMissingIdentifiersWithoutNetwork(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{}`}
	c := newTestClient(t, ft)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["DeleteJob"] = c.DeleteJob(ctx, DeleteJobOptions{})
	_, checks["RunJob"] = c.RunJob(ctx, RunJobOptions{StartURL: "https://example.com"})
	_, checks["GetRunStatus"] = c.GetRunStatus(ctx, RunStatusOptions{})
	_, checks["GetStatus"] = c.GetStatus(ctx, StatusOptions{})
	_, checks["CancelRun"] = c.CancelRun(ctx, CancelRunOptions{})
	_, checks["GetResults"] = c.GetResults(ctx, ResultsOptions{Format: FormatCSV})

	for name, err := range checks {
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if n := ft.callCount(); n != 0 {
		t.Fatalf("expected zero transport calls, got %d", n)
	}
}

func TestListJobsReturnsJobs(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"scrapejobs":[{"token":"a"}]}`}
	c := newTestClient(t, ft)

	jobs, err := c.ListJobs(context.Background(), ListJobsOptions{IncludeLastRun: true})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if diff := cmp.Diff([]Job{{Token: "a"}}, jobs, ignoreRaw); diff != "" {
		t.Fatalf("jobs mismatch (-want +got):\n%s", diff)
	}
	if ft.method != http.MethodGet || ft.url != DefaultBaseURL+"/api/scrapejob" {
		t.Fatalf("unexpected request %s %s", ft.method, ft.url)
	}
	if ft.params["include_last_run"] != "1" {
		t.Fatalf("include_last_run = %q", ft.params["include_last_run"])
	}
}

func TestListJobsSubstitutesEmptyList(t *testing.T) {
	for _, body := range []string{`{"scrapejobs":null}`, `{}`} {
		ft := &fakeTransport{status: http.StatusOK, body: body}
		jobs, err := newTestClient(t, ft).ListJobs(context.Background(), ListJobsOptions{})
		if err != nil {
			t.Fatalf("ListJobs(%s): %v", body, err)
		}
		if jobs == nil || len(jobs) != 0 {
			t.Fatalf("ListJobs(%s) = %#v, want empty non-nil slice", body, jobs)
		}
	}
}

func TestListJobsDecodesLastRun(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"scrapejobs":[{"token":"a","title":"shop","last_run":{"run_token":"r1","status":"complete","data_ready":1,"pages":3}}]}`}
	jobs, err := newTestClient(t, ft).ListJobs(context.Background(), ListJobsOptions{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	want := []Job{{
		Token: "a",
		Title: "shop",
		LastRun: &Run{
			RunToken:  "r1",
			Status:    StatusComplete,
			DataReady: true,
			Pages:     3,
		},
	}}
	if diff := cmp.Diff(want, jobs, ignoreRaw); diff != "" {
		t.Fatalf("jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestNon200ReturnsRawBody(t *testing.T) {
	ft := &fakeTransport{status: http.StatusInternalServerError, body: "server error"}
	c := newTestClient(t, ft)

	for name, call := range everyOperation(c) {
		err := call()
		if err == nil || err.Error() != "server error" {
			t.Fatalf("%s: expected error %q, got %v", name, "server error", err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
			t.Fatalf("%s: expected *APIError with status 500, got %#v", name, err)
		}
	}
}

func TestUnparsableBodyReturnsDecodeError(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: "not-json"}
	c := newTestClient(t, ft)

	for name, call := range everyOperation(c) {
		err := call()
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: expected ErrDecode, got %v", name, err)
		}
		if err.Error() != "could not parse response body" {
			t.Fatalf("%s: unexpected message %q", name, err.Error())
		}
	}
}

func TestTransportErrorIsWrapped(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	ft := &fakeTransport{err: boom}
	_, err := newTestClient(t, ft).RunJob(context.Background(), RunJobOptions{Token: "t"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestMutatingOperationsPostFormAndExtractTokens(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		body string
		path string
		call func(*Client) (string, error)
		want string
	}{
		{
			name: "DeleteJob",
			body: `{"token":"job-1"}`,
			path: "/api/scrapejob/delete",
			call: func(c *Client) (string, error) { return c.DeleteJob(ctx, DeleteJobOptions{Token: "job-1"}) },
			want: "job-1",
		},
		{
			name: "RunJob",
			body: `{"run_token":"run-9"}`,
			path: "/api/scrapejob/run",
			call: func(c *Client) (string, error) { return c.RunJob(ctx, RunJobOptions{Token: "job-1"}) },
			want: "run-9",
		},
		{
			name: "CancelRun",
			body: `{"run_token":"run-9"}`,
			path: "/api/scrapejob/cancel",
			call: func(c *Client) (string, error) { return c.CancelRun(ctx, CancelRunOptions{RunToken: "run-9"}) },
			want: "run-9",
		},
		{
			name: "RunJobMissingField",
			body: `{}`,
			path: "/api/scrapejob/run",
			call: func(c *Client) (string, error) { return c.RunJob(ctx, RunJobOptions{Token: "job-1"}) },
			want: "",
		},
	}

	for _, tc := range cases {
		ft := &fakeTransport{status: http.StatusOK, body: tc.body}
		got, err := tc.call(newTestClient(t, ft))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
		if ft.method != http.MethodPost || ft.url != DefaultBaseURL+tc.path {
			t.Fatalf("%s: unexpected request %s %s", tc.name, ft.method, ft.url)
		}
	}
}

func TestRunJobSendsOptionalFields(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"run_token":"r"}`}
	_, err := newTestClient(t, ft).RunJob(context.Background(), RunJobOptions{
		Token:              "job-1",
		StartURL:           "https://example.com/start",
		StartValueOverride: `{"query":"San Francisco"}`,
	})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	want := map[string]string{
		"api_key":              "key-123",
		"token":                "job-1",
		"start_url":            "https://example.com/start",
		"start_value_override": `{"query":"San Francisco"}`,
	}
	if diff := cmp.Diff(want, ft.params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRunStatusReturnsFullObject(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"project_token":"p","run_token":"r","status":"running","data_ready":false,"start_time":"2024-01-02T03:04:05","pages":12,"owner_email":"a@b.c","is_empty":false}`}
	run, err := newTestClient(t, ft).GetRunStatus(context.Background(), RunStatusOptions{RunToken: "r"})
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	want := Run{ProjectToken: "p", RunToken: "r", Status: StatusRunning, StartTime: "2024-01-02T03:04:05", Pages: 12}
	if diff := cmp.Diff(want, run, ignoreRaw); diff != "" {
		t.Fatalf("run mismatch (-want +got):\n%s", diff)
	}
	if string(run.Raw) != ft.body {
		t.Fatalf("Raw = %s, want the full body", run.Raw)
	}
	if got := string(run.Fields()["owner_email"]); got != `"a@b.c"` {
		t.Fatalf("owner_email = %s", got)
	}
	if run.IsTerminal() {
		t.Fatalf("running run reported terminal")
	}
	if ft.params["run_token"] != "r" {
		t.Fatalf("run_token = %q", ft.params["run_token"])
	}
}

func TestGetStatusReturnsRunList(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"runList":[{"run_token":"r1","status":"complete"},{"run_token":"r2","status":"queued"}]}`}
	runs, err := newTestClient(t, ft).GetStatus(context.Background(), StatusOptions{Token: "t"})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	want := []Run{{RunToken: "r1", Status: StatusComplete}, {RunToken: "r2", Status: StatusQueued}}
	if diff := cmp.Diff(want, runs, ignoreRaw); diff != "" {
		t.Fatalf("runs mismatch (-want +got):\n%s", diff)
	}

	ft.body = `{}`
	runs, err = newTestClient(t, ft).GetStatus(context.Background(), StatusOptions{Token: "t"})
	if err != nil || runs != nil {
		t.Fatalf("expected nil runs without runList, got %#v err=%v", runs, err)
	}
}

func TestGetResultsForcesRawMode(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"products":[{"name":"lamp"}]}`}
	scope, err := newTestClient(t, ft).GetResults(context.Background(), ResultsOptions{
		RunToken: "r",
		Format:   FormatJSON,
		Params:   map[string]string{"raw": "0"},
	})
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if ft.params["raw"] != "1" {
		t.Fatalf("raw = %q, want forced 1", ft.params["raw"])
	}
	if ft.params["format"] != FormatJSON {
		t.Fatalf("format = %q", ft.params["format"])
	}

	var decoded map[string][]map[string]string
	if err := json.Unmarshal(scope, &decoded); err != nil {
		t.Fatalf("scope is not JSON: %v", err)
	}
	if decoded["products"][0]["name"] != "lamp" {
		t.Fatalf("unexpected scope %s", scope)
	}
}

func TestCredentialOverridesCallerValue(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"token":"t"}`}
	c := newTestClient(t, ft)
	caller := map[string]string{"api_key": "spoofed", "extra": "x"}

	if _, err := c.DeleteJob(context.Background(), DeleteJobOptions{Token: "t", Params: caller}); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if ft.params["api_key"] != "key-123" {
		t.Fatalf("api_key = %q, want client credential", ft.params["api_key"])
	}
	if ft.params["extra"] != "x" {
		t.Fatalf("extra param dropped: %#v", ft.params)
	}
	if caller["api_key"] != "spoofed" {
		t.Fatalf("caller params mutated: %#v", caller)
	}
}

func TestClientAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.Form.Get("api_key"); got != "key-123" {
			t.Fatalf("api_key = %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/scrapejob/dl":
			if r.URL.Query().Get("raw") != "1" {
				t.Fatalf("raw not forced on query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"rows":[1,2]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/scrapejob/run":
			if r.PostForm.Get("token") != "job-1" {
				t.Fatalf("token not in form body: %v", r.PostForm)
			}
			_, _ = w.Write([]byte(`{"run_token":"run-1"}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient("key-123", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	runToken, err := c.RunJob(context.Background(), RunJobOptions{Token: "job-1"})
	if err != nil || runToken != "run-1" {
		t.Fatalf("RunJob = %q, %v", runToken, err)
	}
	scope, err := c.GetResults(context.Background(), ResultsOptions{RunToken: runToken})
	if err != nil || string(scope) != `{"rows":[1,2]}` {
		t.Fatalf("GetResults = %s, %v", scope, err)
	}
	if _, err := c.GetStatus(context.Background(), StatusOptions{Token: "job-1"}); err == nil || err.Error() != "not found\n" {
		t.Fatalf("expected raw 404 body, got %v", err)
	}
}

func TestWellFormedBodiesWithUnexpectedTypesDecode(t *testing.T) {
	ctx := context.Background()

	ft := &fakeTransport{status: http.StatusOK, body: `{"run_token":"r","status":"complete","pages":3.0,"data_ready":"true"}`}
	run, err := newTestClient(t, ft).GetRunStatus(ctx, RunStatusOptions{RunToken: "r"})
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if diff := cmp.Diff(Run{RunToken: "r", Status: StatusComplete, Pages: 3, DataReady: true}, run, ignoreRaw); diff != "" {
		t.Fatalf("run mismatch (-want +got):\n%s", diff)
	}

	ft = &fakeTransport{status: http.StatusOK, body: `{"scrapejobs":[{"token":"a","title":5,"last_run":{"run_token":"r","data_ready":"1","pages":"7"}}]}`}
	jobs, err := newTestClient(t, ft).ListJobs(ctx, ListJobsOptions{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	wantJobs := []Job{{Token: "a", Title: "5", LastRun: &Run{RunToken: "r", DataReady: true, Pages: 7}}}
	if diff := cmp.Diff(wantJobs, jobs, ignoreRaw); diff != "" {
		t.Fatalf("jobs mismatch (-want +got):\n%s", diff)
	}

	ft = &fakeTransport{status: http.StatusOK, body: `{"runList":[{"run_token":"r1","data_ready":0,"pages":null},{"run_token":2}]}`}
	runs, err := newTestClient(t, ft).GetStatus(ctx, StatusOptions{Token: "t"})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if diff := cmp.Diff([]Run{{RunToken: "r1"}, {RunToken: "2"}}, runs, ignoreRaw); diff != "" {
		t.Fatalf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestWellFormedNonObjectBodiesAreNotDecodeErrors(t *testing.T) {
	ctx := context.Background()

	ft := &fakeTransport{status: http.StatusOK, body: `{"scrapejobs":"none"}`}
	jobs, err := newTestClient(t, ft).ListJobs(ctx, ListJobsOptions{})
	if err != nil || jobs == nil || len(jobs) != 0 {
		t.Fatalf("ListJobs = %#v err=%v, want empty list", jobs, err)
	}

	ft = &fakeTransport{status: http.StatusOK, body: `[1]`}
	runs, err := newTestClient(t, ft).GetStatus(ctx, StatusOptions{Token: "t"})
	if err != nil || runs != nil {
		t.Fatalf("GetStatus = %#v err=%v, want nil runs", runs, err)
	}

	ft = &fakeTransport{status: http.StatusOK, body: `"pending"`}
	run, err := newTestClient(t, ft).GetRunStatus(ctx, RunStatusOptions{RunToken: "r"})
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if string(run.Raw) != `"pending"` || run.Fields() != nil {
		t.Fatalf("run = %#v, want raw scalar kept", run)
	}
}

func TestTokenFieldPassesNonStringValuesThrough(t *testing.T) {
	ft := &fakeTransport{status: http.StatusOK, body: `{"run_token":42}`}
	got, err := newTestClient(t, ft).RunJob(context.Background(), RunJobOptions{Token: "job-1"})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if got != "42" {
		t.Fatalf("RunJob = %q, want %q", got, "42")
	}
}
