package parsehub

import (
	"context"
	"encoding/json"
)

// Handler receives the outcome of an asynchronous call. It is invoked exactly
// once, on a goroutine owned by the client.
type Handler[T any] func(T, error)

// dispatch runs call on its own goroutine and hands the outcome to done.
func dispatch[T any](ctx context.Context, call func(context.Context) (T, error), done Handler[T]) {
	if done == nil {
		done = func(T, error) {}
	}
	go func() {
		v, err := call(ctx)
		done(v, err)
	}()
}

// ListJobsAsync runs ListJobs in the background and reports to done.
func (c *Client) ListJobsAsync(ctx context.Context, opts ListJobsOptions, done Handler[[]Job]) error {
	dispatch(ctx, func(ctx context.Context) ([]Job, error) { return c.ListJobs(ctx, opts) }, done)
	return nil
}

// DeleteJobAsync validates opts, then runs DeleteJob in the background. A
// validation error is returned directly and done is never called.
func (c *Client) DeleteJobAsync(ctx context.Context, opts DeleteJobOptions, done Handler[string]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) (string, error) { return c.DeleteJob(ctx, opts) }, done)
	return nil
}

// RunJobAsync is the callback form of RunJob. Validation errors are returned
// directly.
func (c *Client) RunJobAsync(ctx context.Context, opts RunJobOptions, done Handler[string]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) (string, error) { return c.RunJob(ctx, opts) }, done)
	return nil
}

// GetRunStatusAsync is the callback form of GetRunStatus.
func (c *Client) GetRunStatusAsync(ctx context.Context, opts RunStatusOptions, done Handler[Run]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) (Run, error) { return c.GetRunStatus(ctx, opts) }, done)
	return nil
}

// GetStatusAsync is the callback form of GetStatus.
func (c *Client) GetStatusAsync(ctx context.Context, opts StatusOptions, done Handler[[]Run]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) ([]Run, error) { return c.GetStatus(ctx, opts) }, done)
	return nil
}

// CancelRunAsync is the callback form of CancelRun.
func (c *Client) CancelRunAsync(ctx context.Context, opts CancelRunOptions, done Handler[string]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) (string, error) { return c.CancelRun(ctx, opts) }, done)
	return nil
}

// GetResultsAsync is the callback form of GetResults. Invalid options are
// rejected before any request is sent.
func (c *Client) GetResultsAsync(ctx context.Context, opts ResultsOptions, done Handler[json.RawMessage]) error {
	if err := opts.validate(); err != nil {
		return err
	}
	dispatch(ctx, func(ctx context.Context) (json.RawMessage, error) { return c.GetResults(ctx, opts) }, done)
	return nil
}
