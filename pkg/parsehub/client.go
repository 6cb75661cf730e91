package parsehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samvad-hq/parsehub-runwatcher/pkg/httpclient"
)

// DefaultBaseURL is the ParseHub API host.
const DefaultBaseURL = "https://www.parsehub.com"

const (
	pathJobs      = "/api/scrapejob"
	pathDelete    = "/api/scrapejob/delete"
	pathRun       = "/api/scrapejob/run"
	pathRunStatus = "/api/scrapejob/run_status"
	pathStatus    = "/api/scrapejob/status"
	pathCancel    = "/api/scrapejob/cancel"
	pathResults   = "/api/scrapejob/dl"
)

// Client is a ParseHub API binding. It holds no mutable state and is safe for
// concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	http    httpclient.Client
	log     Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the default resty transport.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log Logger) Option {
	return func(c *Client) { c.log = ensureLogger(log) }
}

// NewClient returns a client authenticating every call with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		log:     noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewRestyClient(0)
	}
	return c, nil
}

// ListJobs returns every job owned by the account. The result is never nil.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]Job, error) {
	fields, err := c.object(ctx, http.MethodGet, pathJobs, opts.params())
	if err != nil {
		return nil, err
	}
	jobs := decodeList[Job](c.log, pathJobs, "scrapejobs", fields["scrapejobs"])
	if jobs == nil {
		return []Job{}, nil
	}
	return jobs, nil
}

// DeleteJob deletes a job and returns the token the service reports as deleted.
func (c *Client) DeleteJob(ctx context.Context, opts DeleteJobOptions) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	return c.token(ctx, http.MethodPost, pathDelete, opts.params(), "token")
}

// RunJob starts a run of a job and returns the new run token.
func (c *Client) RunJob(ctx context.Context, opts RunJobOptions) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	return c.token(ctx, http.MethodPost, pathRun, opts.params(), "run_token")
}

// GetRunStatus returns the run object for a single run. Run.Raw holds the
// object exactly as the service sent it, including fields Run does not model.
func (c *Client) GetRunStatus(ctx context.Context, opts RunStatusOptions) (Run, error) {
	if err := opts.validate(); err != nil {
		return Run{}, err
	}
	var run Run
	if err := c.do(ctx, http.MethodGet, pathRunStatus, opts.params(), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetStatus returns the runs of a job. A response without runList yields nil.
func (c *Client) GetStatus(ctx context.Context, opts StatusOptions) ([]Run, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	fields, err := c.object(ctx, http.MethodGet, pathStatus, opts.params())
	if err != nil {
		return nil, err
	}
	return decodeList[Run](c.log, pathStatus, "runList", fields["runList"]), nil
}

// CancelRun cancels a run and returns the cancelled run token.
func (c *Client) CancelRun(ctx context.Context, opts CancelRunOptions) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}
	return c.token(ctx, http.MethodPost, pathCancel, opts.params(), "run_token")
}

// GetResults downloads the global scope of a finished run as raw JSON.
func (c *Client) GetResults(ctx context.Context, opts ResultsOptions) (json.RawMessage, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var scope json.RawMessage
	if err := c.do(ctx, http.MethodGet, pathResults, opts.params(), &scope); err != nil {
		return nil, err
	}
	return scope, nil
}

// token extracts a single field from the decoded response. Non-string values
// are returned as their JSON text.
func (c *Client) token(ctx context.Context, method, path string, params map[string]string, field string) (string, error) {
	fields, err := c.object(ctx, method, path, params)
	if err != nil {
		return "", err
	}
	raw := fields[field]
	if !isNull(raw) && bytes.TrimSpace(raw)[0] != '"' {
		c.log.WarnObj("parsehub field is not a string", "parsehub_field", map[string]any{
			"path":  path,
			"field": field,
			"value": string(raw),
		})
	}
	return looseString(raw), nil
}

// object decodes a 200 body and returns its top-level members. Well-formed
// JSON that is not an object yields nil, so every expected field is absent.
func (c *Client) object(ctx context.Context, method, path string, params map[string]string) (map[string]json.RawMessage, error) {
	var body json.RawMessage
	if err := c.do(ctx, method, path, params, &body); err != nil {
		return nil, err
	}
	return objectFields(body), nil
}

// decodeList decodes an array member. Anything but an array is treated as
// absent and logged.
func decodeList[T any](log Logger, path, field string, raw json.RawMessage) []T {
	if isNull(raw) {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		log.WarnObj("parsehub field is not a list", "parsehub_field", map[string]any{
			"path":  path,
			"field": field,
		})
		return nil
	}
	return out
}

// do issues exactly one request and decodes a 200 body into out.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	params[paramAPIKey] = c.apiKey

	url := c.baseURL + path
	c.log.DebugObj("parsehub request", "parsehub_request", map[string]any{
		"method": method,
		"path":   path,
	})

	var (
		resp httpclient.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = c.http.Get(ctx, url, nil, params)
	} else {
		resp, err = c.http.PostForm(ctx, url, nil, params)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.log.WarnObj("parsehub request rejected", "parsehub_error", map[string]any{
			"method": method,
			"path":   path,
			"status": resp.StatusCode(),
		})
		return &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return ErrDecode
	}
	return nil
}
