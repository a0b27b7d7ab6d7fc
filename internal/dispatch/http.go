package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	language "github.com/hanpama/querymux/internal/language"
)

// HTTPDispatcher executes merged documents against an upstream GraphQL
// endpoint with a single HTTP POST per group. It makes exactly one
// attempt: any transport, status, or decode failure is returned as-is
// and fails the whole group upstream of it.
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
	headers  http.Header
	log      zerolog.Logger
}

type Option func(*HTTPDispatcher)

// WithClient replaces the underlying HTTP client.
func WithClient(c *http.Client) Option {
	return func(d *HTTPDispatcher) { d.client = c }
}

// WithTimeout sets the per-dispatch timeout on the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(d *HTTPDispatcher) { d.client.Timeout = timeout }
}

// WithHeader adds a static header sent with every upstream request,
// e.g. authorization for the remote schema.
func WithHeader(name, value string) Option {
	return func(d *HTTPDispatcher) { d.headers.Add(name, value) }
}

// WithLogger attaches a logger; by default nothing is logged.
func WithLogger(log zerolog.Logger) Option {
	return func(d *HTTPDispatcher) { d.log = log }
}

// NewHTTP creates a dispatcher posting to the given GraphQL endpoint.
func NewHTTP(endpoint string, opts ...Option) *HTTPDispatcher {
	d := &HTTPDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		headers:  http.Header{},
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type wireRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type wireError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type wireResponse struct {
	Data       map[string]any `json:"data"`
	Errors     []wireError    `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Dispatch implements batch.Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *batch.MergedRequest) (*batch.MergedResult, error) {
	query := language.Format(req.Document)
	body, err := json.Marshal(wireRequest{
		Query:         query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: encoding request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	for name, values := range d.headers {
		for _, v := range values {
			hr.Header.Add(name, v)
		}
	}

	start := time.Now()
	resp, err := d.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("dispatch: upstream returned %s", resp.Status)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("dispatch: decoding response: %w", err)
	}

	d.log.Debug().
		Str("operation", req.OperationName).
		Int("queryBytes", len(query)).
		Int("errors", len(wire.Errors)).
		Dur("elapsed", time.Since(start)).
		Msg("dispatched merged request")

	return toMergedResult(&wire), nil
}

func toMergedResult(w *wireResponse) *batch.MergedResult {
	out := &batch.MergedResult{Data: w.Data, Extensions: w.Extensions}
	for _, e := range w.Errors {
		out.Errors = append(out.Errors, batch.Error{
			Message:    e.Message,
			Path:       normalizePath(e.Path),
			Extensions: e.Extensions,
		})
	}
	return out
}

// normalizePath converts JSON-decoded path elements (float64 for every
// number) into the int indices the demultiplexer expects.
func normalizePath(raw []any) batch.Path {
	if len(raw) == 0 {
		return nil
	}
	p := make(batch.Path, len(raw))
	for i, e := range raw {
		if f, ok := e.(float64); ok {
			p[i] = int(f)
		} else {
			p[i] = e
		}
	}
	return p
}
