package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/hazyhaar/docwatch/horosafe"
)

// MaxResponseBody caps response bodies read by the HTTP handlers (10 MiB).
const MaxResponseBody int64 = 10 << 20

// HTTPGet returns a Handler that GETs the URL carried in the payload.
// header is copied onto every request.
func HTTPGet(client *http.Client, header http.Header) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(payload), nil)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: create request: %w", err)
		}
		return do(client, req, header)
	}
}

// HTTPPostJSON returns a Handler that POSTs the payload as JSON to endpoint.
func HTTPPostJSON(client *http.Client, endpoint string, header http.Header) Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return do(client, req, header)
	}
}

func do(client *http.Client, req *http.Request, header http.Header) ([]byte, error) {
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &ErrHTTPStatus{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return body, nil
}
