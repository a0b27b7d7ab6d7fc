package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	collector "github.com/hanpama/querymux/internal/collector"
	eventbus "github.com/hanpama/querymux/internal/eventbus"
	events "github.com/hanpama/querymux/internal/events"
	language "github.com/hanpama/querymux/internal/language"
	reqid "github.com/hanpama/querymux/internal/reqid"
)

// Handler is an http.Handler that accepts GraphQL requests and funnels
// every operation through the collector, so that concurrent callers
// share merged upstream round trips. Responses are formatted per the
// GraphQL-over-HTTP convention.
type Handler struct {
	col   *collector.Collector
	cache *queryCache
	opt   Options
	log   zerolog.Logger
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CacheSize bounds the parsed-document cache. Default 1024.
	CacheSize int

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Logger for request-level diagnostics.
	Logger zerolog.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCacheSize(n int) Option         { return func(o *Options) { o.CacheSize = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithLogger(log zerolog.Logger) Option { return func(o *Options) { o.Logger = log } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler in front of the given collector.
func New(col *collector.Collector, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, CacheSize: 1024, Logger: zerolog.Nop()}
	for _, f := range opts {
		f(&op)
	}
	cache, err := newQueryCache(op.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Handler{col: col, cache: cache, opt: op, log: op.Logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	operations := 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Operations: operations, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(nil, &language.Error{Message: "method not allowed"}), h.opt.Pretty)
		return
	}

	req, many, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(nil, berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if many != nil {
		// A JSON array is the natural fan-in case: enqueue every
		// operation before waiting so they ride the same window.
		operations = len(many)
		handles := make([]*batch.Handle, len(many))
		outcomes := make([]any, len(many))
		for i := range many {
			hd, err := h.enqueue(ctx, many[i])
			if err != nil {
				outcomes[i] = errorResponse(nil, err)
				continue
			}
			handles[i] = hd
		}
		for i, hd := range handles {
			if hd == nil {
				continue
			}
			outcomes[i] = h.await(ctx, hd)
		}
		writeJSON(w, status, outcomes, h.opt.Pretty)
		return
	}

	operations = 1
	hd, err := h.enqueue(ctx, req)
	if err != nil {
		writeJSON(w, status, errorResponse(nil, err), h.opt.Pretty)
		return
	}
	writeJSON(w, status, h.await(ctx, hd), h.opt.Pretty)
}

// enqueue parses one incoming operation and hands it to the collector.
func (h *Handler) enqueue(ctx context.Context, req GraphQLRequest) (*batch.Handle, *language.Error) {
	doc, err := h.cache.parse(req.Query)
	if err != nil {
		if ge, ok := err.(*language.Error); ok {
			return nil, ge
		}
		return nil, &language.Error{Message: err.Error()}
	}
	pr, err := batch.NewPendingRequest(ctx, doc, req.OperationName, req.Variables)
	if err != nil {
		return nil, &language.Error{Message: err.Error()}
	}
	h.col.Enqueue(pr)
	return pr.Handle, nil
}

func (h *Handler) await(ctx context.Context, hd *batch.Handle) any {
	res, err := hd.Wait(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("operation failed")
		return errorResponse(nil, &language.Error{Message: err.Error()})
	}
	return res
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "failed to read body"}
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return GraphQLRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
		}

		// Try array (batch)
		if len(body) > 0 && body[0] == '[' {
			var arr []GraphQLRequest
			if err := json.Unmarshal(body, &arr); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
			}
			if len(arr) == 0 {
				return GraphQLRequest{}, nil, &language.Error{Message: "empty batch"}
			}
			return GraphQLRequest{}, arr, nil
		}
		// Single
		var req GraphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if req.Query == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, nil
	}

	return GraphQLRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
}

// ------------------ Response formatting ------------------

type specError struct {
	Message string `json:"message"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

func errorResponse(data any, err *language.Error) specResult {
	return specResult{Data: data, Errors: []specError{{Message: err.Message}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowed = true
			wildcard = true
		}
		if o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
