package resilience

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// DoHTTP executes an HTTP request through e with retry and circuit breaking.
// buildReq is called on each attempt to produce a fresh request.
// Responses with a retryable status are consumed and returned as *HTTPStatusError;
// any other status, 4xx included, is handed back to the caller untouched.
func DoHTTP(ctx context.Context, e *Executor, client *http.Client, opts Options, buildReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return Retry(ctx, e, func(ctx context.Context) (*http.Response, error) {
		req, err := buildReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if slices.Contains(retryableStatus, resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	}, opts)
}
