package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultServiceName = "parity-flsim"

// Telemetry is the OpenTelemetry side of a simulation run: the trace and
// meter providers exporting to the collector and the round recorder built
// on their meter. Without a collector it records into the global no-op
// providers.
type Telemetry struct {
	recorder *Recorder
	closers  []func(context.Context) error
}

// InitTelemetry exports traces and round metrics to the configured OTLP
// collector. A disabled config or an unreachable collector is not an
// error; the run continues on no-op providers.
func InitTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	log := logger.WithComponent("telemetry")
	service := cfg.Telemetry.ServiceName
	if service == "" {
		service = defaultServiceName
	}

	if !cfg.Telemetry.Enabled {
		return noop(service)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Telemetry.OTELCollector.Host, cfg.Telemetry.OTELCollector.Port)
	conn, err := dialCollector(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("collector", addr).Msg("Collector unreachable, recording rounds without export")
		return noop(service)
	}
	t := &Telemetry{closers: []func(context.Context) error{
		func(context.Context) error { return conn.Close() },
	}}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create trace exporter")
		_ = t.Shutdown(ctx)
		return noop(service)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	t.closers = append([]func(context.Context) error{tracerProvider.Shutdown}, t.closers...)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create metric exporter, exporting traces only")
		return t, t.bindRecorder(otel.Meter(service))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(cfg.Telemetry.Metrics.Interval),
		)),
	)
	t.closers = append([]func(context.Context) error{meterProvider.Shutdown}, t.closers...)
	otel.SetMeterProvider(meterProvider)

	if err := t.bindRecorder(meterProvider.Meter(service)); err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}

	log.Info().
		Str("collector", addr).
		Str("service", service).
		Dur("interval", cfg.Telemetry.Metrics.Interval).
		Msg("Telemetry initialized")
	return t, nil
}

func noop(service string) (*Telemetry, error) {
	t := &Telemetry{}
	if err := t.bindRecorder(otel.Meter(service)); err != nil {
		return nil, err
	}
	return t, nil
}

func dialCollector(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return grpc.DialContext(dialCtx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func (t *Telemetry) bindRecorder(meter metric.Meter) error {
	rec, err := NewRecorder(meter)
	if err != nil {
		return err
	}
	t.recorder = rec
	return nil
}

// Recorder returns the round recorder bound to the run's meter
func (t *Telemetry) Recorder() *Recorder {
	return t.recorder
}

// Shutdown flushes the providers and closes the collector connection
func (t *Telemetry) Shutdown(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, closeFn := range t.closers {
		if err := closeFn(cctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown failed: %w", err)
	}
	return nil
}
