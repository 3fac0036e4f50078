package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/groundstation/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span sinks understood by StartTracing.
const (
	SinkStdout = "stdout"
	SinkOTLP   = "otlp"
)

const (
	defaultTraceService  = "groundstation"
	defaultCollectorAddr = "localhost:4317"
	traceFlushTimeout    = 5 * time.Second
	instrumentationScope = "github.com/signalsfoundry/groundstation"
	attrSatellite        = "satellite"
	attrSession          = "session_id"
	attrStation          = "station.name"
)

// TraceSettings selects where prediction and session spans go. Tracing is
// off unless Enabled is set.
type TraceSettings struct {
	Enabled     bool
	Service     string // reported as service.name
	Station     string // tags every span batch with its station
	Sink        string // SinkStdout or SinkOTLP
	Collector   string // OTLP gRPC address, unused for stdout
	SampleRatio float64
	Output      io.Writer // stdout sink target; nil means os.Stdout
}

// TraceSettingsFromEnv reads GS_TRACING_* and GS_OTLP_ENDPOINT. A sample
// ratio outside [0, 1] is ignored.
func TraceSettingsFromEnv() TraceSettings {
	return traceSettingsFromLookup(os.LookupEnv)
}

func traceSettingsFromLookup(lookup func(string) (string, bool)) TraceSettings {
	s := TraceSettings{
		Service:     defaultTraceService,
		Sink:        SinkStdout,
		SampleRatio: 1,
	}
	if v, ok := lookup("GS_TRACING_ENABLED"); ok {
		s.Enabled, _ = strconv.ParseBool(v)
	}
	if v, ok := lookup("GS_TRACING_EXPORTER"); ok && v != "" {
		s.Sink = strings.ToLower(v)
	}
	if v, ok := lookup("GS_TRACING_SERVICE_NAME"); ok && v != "" {
		s.Service = v
	}
	if v, ok := lookup("GS_TRACING_SAMPLE_RATIO"); ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			s.SampleRatio = r
		}
	}
	s.Collector, _ = lookup("GS_OTLP_ENDPOINT")
	s.Station, _ = lookup("GS_STATION_NAME")
	return s
}

// StopFunc flushes buffered spans and releases the exporter.
type StopFunc func(context.Context) error

// StartTracing installs the global tracer provider described by s. With
// tracing disabled a noop provider is installed and the returned StopFunc
// does nothing.
func StartTracing(ctx context.Context, s TraceSettings, log logging.Logger) (StopFunc, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !s.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "span export off")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, s)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", s.Service)}
	if s.Station != "" {
		attrs = append(attrs, attribute.String(attrStation, s.Station))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info(ctx, "exporting spans",
		logging.String("sink", s.Sink),
		logging.String("collector", s.Collector),
		logging.Float("sample_ratio", s.SampleRatio),
	)
	return provider.Shutdown, nil
}

func newSpanExporter(ctx context.Context, s TraceSettings) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(s.Sink) {
	case SinkStdout, "":
		out := s.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case SinkOTLP, "otlpgrpc":
		addr := s.Collector
		if addr == "" {
			addr = defaultCollectorAddr
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(addr),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, fmt.Errorf("unsupported span sink %q", s.Sink)
}

// StopTracing runs stop with a bounded flush deadline. Failures are logged,
// not returned, since they only happen on the way out.
func StopTracing(ctx context.Context, stop StopFunc, log logging.Logger) {
	if stop == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, traceFlushTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		log.Warn(ctx, "span flush failed", logging.Err(err))
	}
}

// StartSpan opens a span tagged with the satellite (when non-empty) and the
// session carried by ctx.
func StartSpan(ctx context.Context, name, satellite string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if satellite != "" {
		attrs = append(attrs, attribute.String(attrSatellite, satellite))
	}
	if id := logging.SessionIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String(attrSession, id))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(instrumentationScope).Start(ctx, name, trace.WithAttributes(attrs...))
}
