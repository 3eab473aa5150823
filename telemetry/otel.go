// Package telemetry exports logs and traces over OTLP/HTTP.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/authentication"
	"github.com/inoueakimitsu/cline/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// tokenLifetime is how long the bearer minted for the exporters stays valid.
const tokenLifetime = 24 * time.Hour

type ShutdownFunc func()

// New configures the OTLP log and trace exporters against otlpServerURL and
// installs the tracer provider globally. When sharedSecret is set, a bearer
// token derived from it is sent with every export. The returned logger writes
// to OpenTelemetry and, when consoleLogger is not nil, to consoleLogger too.
func New(ctx context.Context, serviceName string, sharedSecret string, otlpServerURL string, consoleLogger logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	otlpURL, err := url.Parse(otlpServerURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error parsing oltpServerURL: %w", err)
	}
	if otlpURL.Scheme != "http" && otlpURL.Scheme != "https" {
		return nil, nil, nil, fmt.Errorf("error parsing oltpServerURL: unsupported scheme %q", otlpURL.Scheme)
	}
	otlpURL.Path = "/v1/logs"
	logURL := otlpURL.String()
	otlpURL.Path = "/v1/traces"
	traceURL := otlpURL.String()

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		if consoleLogger != nil {
			consoleLogger.Warn("partial telemetry resource: %s", err)
		}
	} else if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating resource: %w", err)
	}

	headers := make(map[string]string)
	if sharedSecret != "" {
		token, err := authentication.NewBearerToken(sharedSecret, authentication.WithExpiration(time.Now().Add(tokenLifetime)))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("error generating bearer token: %w", err)
		}
		headers["Authorization"] = "Bearer " + token
	}

	logExporterOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(time.Second * 10),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	traceExporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(time.Second * 10),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if otlpURL.Scheme == "http" {
		logExporterOpts = append(logExporterOpts, otlploghttp.WithInsecure())
		traceExporterOpts = append(traceExporterOpts, otlptracehttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logExporterOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating log exporter: %w", err)
	}
	traceExporter, err := otlptracehttp.New(ctx, traceExporterOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating trace exporter: %w", err)
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var log logger.Logger = logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelTrace)
	if consoleLogger != nil {
		log = consoleLogger.Stack(log)
	}

	return ctx, log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		traceProvider.Shutdown(ctx)
		logProvider.Shutdown(ctx)
	}, nil
}

// StartSpan starts a span on tracer and returns a logger carrying the trace
// and span identifiers.
func StartSpan(ctx context.Context, log logger.Logger, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, logger.Logger, trace.Span) {
	ctx, span := tracer.Start(ctx, name, opts...)
	sc := span.SpanContext()
	if sc.IsValid() {
		log = log.With(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return ctx, log.WithContext(ctx), span
}
