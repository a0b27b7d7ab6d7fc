package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	batch "github.com/hanpama/querymux/internal/batch"
	collector "github.com/hanpama/querymux/internal/collector"
	dispatch "github.com/hanpama/querymux/internal/dispatch"
	eventbus "github.com/hanpama/querymux/internal/eventbus"
	otel "github.com/hanpama/querymux/internal/otel"
	server "github.com/hanpama/querymux/internal/server"
)

const rootUsage = `querymux — GraphQL request coalescing proxy

USAGE:
  querymux <command> [flags]

COMMANDS:
  serve            Run the HTTP endpoint that merges operations upstream
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -upstream.endpoint <url>        Upstream GraphQL endpoint (required)
  -upstream.timeout <duration>    Upstream request timeout (default: 30s)
  -upstream.header <Name=Value>   Static header sent upstream. Repeatable
  -batch.max-size <n>             Max operations per merged request (default: 10)
  -batch.max-wait <duration>      Max window age before flushing (default: 5ms)
  -batch.unattributed <policy>    Fallback for unattributable errors:
                                  last | all | drop (default: last)
  -server.addr <addr>             HTTP listen address (default: :8080)
  -server.pretty                  Pretty-print JSON responses
  -server.timeout <duration>      Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body <bytes>        Max request body size (default: unlimited)
  -server.cache-size <n>          Parsed-query cache entries (default: 1024)
  -server.cors <origin>           Allowed CORS origin. Repeatable
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: querymux)
  -log.level <level>              zerolog level (default: info)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("querymux")
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:])
	case "help":
		return cmdHelp(args[1:])
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type headerFlag struct {
	pairs [][2]string
}

func (h *headerFlag) String() string { return "" }

func (h *headerFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("invalid header %q", v)
	}
	h.pairs = append(h.pairs, [2]string{strings.TrimSpace(parts[0]), parts[1]})
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parsePolicy(name string) (batch.UnattributedPolicy, error) {
	switch name {
	case "last":
		return batch.AttachToLast, nil
	case "all":
		return batch.BroadcastAll, nil
	case "drop":
		return batch.Drop, nil
	default:
		return 0, fmt.Errorf("unknown unattributed policy %q", name)
	}
}

func setupLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}

func cmdServe(args []string) error {
	endpoint := ""
	upstreamTimeout := 30 * time.Second
	maxBatch := 10
	maxWait := 5 * time.Millisecond
	policy := "last"
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(0)
	cacheSize := 1024
	otelEndpoint := ""
	otelService := "querymux"
	logLevel := "info"
	var headers headerFlag
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&endpoint, "upstream.endpoint", endpoint, "Upstream GraphQL endpoint")
	fs.DurationVar(&upstreamTimeout, "upstream.timeout", upstreamTimeout, "Upstream request timeout")
	fs.Var(&headers, "upstream.header", "Static header sent upstream")
	fs.IntVar(&maxBatch, "batch.max-size", maxBatch, "Max operations per merged request")
	fs.DurationVar(&maxWait, "batch.max-wait", maxWait, "Max window age before flushing")
	fs.StringVar(&policy, "batch.unattributed", policy, "Fallback for unattributable errors")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body", maxBody, "Max request body size")
	fs.IntVar(&cacheSize, "server.cache-size", cacheSize, "Parsed-query cache entries")
	fs.Var(&corsOrigins, "server.cors", "Allowed CORS origin")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", logLevel, "zerolog level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if endpoint == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-upstream.endpoint is required")
	}
	unattributed, err := parsePolicy(policy)
	if err != nil {
		return err
	}
	logger, err := setupLogger(logLevel)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdownOtel, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithTimeout(upstreamTimeout),
		dispatch.WithLogger(logger),
	}
	for _, p := range headers.pairs {
		dispatchOpts = append(dispatchOpts, dispatch.WithHeader(p[0], p[1]))
	}
	disp := dispatch.NewHTTP(endpoint, dispatchOpts...)

	col := collector.New(disp, logger, collector.Options{
		MaxBatch:     maxBatch,
		MaxWait:      maxWait,
		Unattributed: unattributed,
	})

	serverOpts := []server.Option{
		server.WithTimeout(timeout),
		server.WithMaxBodyBytes(maxBody),
		server.WithCacheSize(cacheSize),
		server.WithLogger(logger),
	}
	if pretty {
		serverOpts = append(serverOpts, server.WithPretty())
	}
	if len(corsOrigins) > 0 {
		serverOpts = append(serverOpts, server.WithCORS(corsOrigins...))
	}
	handler, err := server.New(col, serverOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("upstream", endpoint).
			Int("maxBatch", maxBatch).
			Dur("maxWait", maxWait).
			Msg("starting querymux")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	col.Close()
	return shutdownOtel(ctx)
}
