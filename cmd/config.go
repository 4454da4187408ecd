// Copyright (c) The Thanos Authors.
// Licensed under the Apache 2.0 license found in the LICENSE file or at:
//     https://opensource.org/licenses/Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/propagators/autoprop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger" //nolint:staticcheck
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/alecthomas/units"
	"github.com/oklog/run"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/client"
	"gopkg.in/alecthomas/kingpin.v2"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tierstore/metastat/internal/log"
	"github.com/tierstore/metastat/metastore"
)

func setupInterrupt(ctx context.Context, g *run.Group, log *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-ctx.Done()
		log.Info("Canceling actors")
		return nil
	}, func(error) {
		cancel()
	})
}

// requestContext injects a fresh request id into the context and stamps it
// onto the context logger so every log line of the run carries it.
func requestContext(ctx context.Context, logger *slog.Logger) context.Context {
	requestID := ulid.Make().String()
	ctx = log.ContextWithRequestID(ctx, requestID)
	return log.WithLogger(ctx, logger.With(slog.String("request_id", requestID)))
}

type bucketOpts struct {
	objStoreConfigFile string
	objStoreConfig     string
}

var envParens = regexp.MustCompile(`\$\(([A-Za-z_][A-Za-z0-9_]*)\)`)

// ExpandEnvParens substitutes $(VAR) references in b with the value of the
// environment variable VAR. Unset variables expand to the empty string.
func ExpandEnvParens(b []byte) []byte {
	return envParens.ReplaceAllFunc(b, func(m []byte) []byte {
		name := envParens.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func setupBucket(log *slog.Logger, opts bucketOpts) (objstore.Bucket, error) {
	var confContentYaml []byte
	var err error

	// Read from file if provided, otherwise use inline content
	if opts.objStoreConfigFile != "" {
		confContentYaml, err = os.ReadFile(opts.objStoreConfigFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read objstore config file: %w", err)
		}
	} else if opts.objStoreConfig != "" {
		confContentYaml = []byte(opts.objStoreConfig)
	} else {
		return nil, fmt.Errorf("objstore config is required (use --archive.objstore-config or --archive.objstore-config-file)")
	}

	// If config is empty, return error
	if len(confContentYaml) == 0 {
		return nil, fmt.Errorf("objstore config is required")
	}

	bkt, err := client.NewBucket(slogAdapter{log}, ExpandEnvParens(confContentYaml), "metastat", nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create bucket client: %w", err)
	}

	return bkt, nil
}

type slogAdapter struct {
	log *slog.Logger
}

func (s slogAdapter) Log(args ...any) error {
	s.log.Debug("", args...)
	return nil
}

type tracingOpts struct {
	exporterType string

	// jaeger opts
	jaegerEndpoint string

	samplingParam float64
	samplingType  string
}

func (opts *tracingOpts) registerFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("tracing.exporter.type", "type of tracing exporter").Default("STDOUT").EnumVar(&opts.exporterType, "JAEGER", "STDOUT")
	cmd.Flag("tracing.jaeger.endpoint", "endpoint to send traces, eg. https://example.com:4318/v1/traces").StringVar(&opts.jaegerEndpoint)
	cmd.Flag("tracing.sampling.param", "sample of traces to send").Default("0.1").Float64Var(&opts.samplingParam)
	cmd.Flag("tracing.sampling.type", "type of sampling").Default("PROBABILISTIC").EnumVar(&opts.samplingType, "PROBABILISTIC", "ALWAYS", "NEVER")
}

func setupTracing(ctx context.Context, opts tracingOpts) error {
	var (
		exporter trace.SpanExporter
		err      error
	)
	switch opts.exporterType {
	case "JAEGER":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.jaegerEndpoint)))
		if err != nil {
			return err
		}
	case "STDOUT":
		exporter, err = stdouttrace.New()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid exporter type %s", opts.exporterType)
	}
	var sampler trace.Sampler
	switch opts.samplingType {
	case "PROBABILISTIC":
		sampler = trace.TraceIDRatioBased(opts.samplingParam)
	case "ALWAYS":
		sampler = trace.AlwaysSample()
	case "NEVER":
		sampler = trace.NeverSample()
	default:
		return fmt.Errorf("invalid sampling type %s", opts.samplingType)
	}
	r, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("metastat"),
			semconv.ServiceVersion("v0.0.0"),
		),
	)
	if err != nil {
		return err
	}

	tracerProvider := trace.NewTracerProvider(
		trace.WithSampler(trace.ParentBased(sampler)),
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(autoprop.NewTextMapPropagator())
	return nil
}

type apiOpts struct {
	port int

	shutdownTimeout time.Duration
}

func (opts *apiOpts) registerFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("http.internal.port", "port to host the internal api").Default("6060").IntVar(&opts.port)
	cmd.Flag("http.internal.shutdown-timeout", "timeout on shutdown").Default("10s").DurationVar(&opts.shutdownTimeout)
}

func setupInternalAPI(g *run.Group, log *slog.Logger, reg *prometheus.Registry, opts apiOpts) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK")
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK")
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", opts.port), Handler: mux}
	g.Add(func() error {
		log.Info("Serving internal api", slog.Int("port", opts.port))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		log.Info("Shutting down internal api", slog.Int("port", opts.port))
		ctx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error("Error shutting down internal server", slog.Any("err", err))
		}
	})
}

type dbOpts struct {
	driver               string
	dsn                  string
	duckdbMemLimit       units.Base2Bytes
	maxConcurrentQueries int
}

func (opts *dbOpts) registerFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("db.driver", "database driver").Default("duckdb").EnumVar(&opts.driver, "duckdb", "mysql")
	cmd.Flag("db.dsn", "data source name, a file path for duckdb or a connection string for mysql").StringVar(&opts.dsn)
	cmd.Flag("db.duckdb.memory-limit", "memory limit for the embedded duckdb engine").Default("1GiB").BytesVar(&opts.duckdbMemLimit)
	cmd.Flag("db.max-concurrent-queries", "maximum number of concurrently streaming queries, 0 means no limit").Default("0").IntVar(&opts.maxConcurrentQueries)
}

func setupDB(ctx context.Context, log *slog.Logger, opts dbOpts) (*metastore.Gateway, func() error, error) {
	var dialect metastore.Dialect
	switch opts.driver {
	case "duckdb":
		dialect = metastore.DialectDuckDB
	case "mysql":
		dialect = metastore.DialectMySQL
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", opts.driver)
	}

	dsn := opts.dsn
	if dialect == metastore.DialectDuckDB && opts.duckdbMemLimit > 0 {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "max_memory=" + opts.duckdbMemLimit.String()
	}

	db, err := sql.Open(opts.driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("unable to reach database: %w", err)
	}
	log.Debug("Database ready", slog.String("driver", opts.driver))

	gw := metastore.NewGateway(db, dialect, metastore.MaxConcurrentQueries(opts.maxConcurrentQueries))
	return gw, db.Close, nil
}
