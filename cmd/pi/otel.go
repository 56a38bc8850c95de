package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	gcpdetectors "go.opentelemetry.io/contrib/detectors/gcp"
	hostinstrumentation "go.opentelemetry.io/contrib/instrumentation/host"
	runtimeinstrumentation "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	metricReportingPeriod = 30 * time.Second
)

type shutdownFunction func(context.Context) error

// Create a new OpenTelemetry resource to describe the source of metrics and traces.
func newTelemetryResource(ctx context.Context, name string) (*resource.Resource, error) {
	logger := logger.V(1).WithValues("name", name)
	logger.Info("Creating new OpenTelemetry resource descriptor")
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID for telemetry resource: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceNamespaceKey.String(PackageName),
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
			semconv.ServiceInstanceIDKey.String(id.String()),
		),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithOS(),
		// Some process information is unknown when running in a scratch
		// container.
		resource.WithProcessPID(),
		resource.WithProcessExecutableName(),
		resource.WithProcessExecutablePath(),
		resource.WithProcessCommandArgs(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithProcessRuntimeDescription(),
		// GCP detection is last so that it can override service attributes.
		resource.WithDetectors(gcpdetectors.NewDetector()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create new telemetry resource: %w", err)
	}
	logger.V(1).Info("OpenTelemetry resource created", "resource", res)
	return res, nil
}

// Initializes a periodic reader that will push OpenTelemetry metrics to the
// target, along with host and runtime instrumentation, returning the shutdown
// function of the provider.
func initMetrics(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource) (shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target)
	logger.Info("Creating OpenTelemetry metric handlers")
	options := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(target),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlpmetricgrpc.WithTLSCredentials(creds))
	} else {
		options = append(options, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricReportingPeriod))),
		sdkmetric.WithResource(res),
	)
	if err = runtimeinstrumentation.Start(runtimeinstrumentation.WithMeterProvider(provider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}
	if err = hostinstrumentation.Start(hostinstrumentation.WithMeterProvider(provider)); err != nil {
		return nil, fmt.Errorf("failed to start host metrics: %w", err)
	}
	otel.SetMeterProvider(provider)
	logger.Info("OpenTelemetry metric handlers created and started")
	return provider.Shutdown, nil
}

// Initializes a batching pipeline that will send OpenTelemetry spans to the
// target, returning the shutdown function of the provider.
func initTrace(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource, sampler sdktrace.Sampler) (shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target, "sampler", sampler.Description())
	logger.Info("Creating new OpenTelemetry trace exporter")
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlptracegrpc.WithTLSCredentials(creds))
	} else {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new trace exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)
	logger.Info("OpenTelemetry trace handlers created and started")
	return provider.Shutdown, nil
}

// Initializes OpenTelemetry metric and trace processing and delivery to the
// collector target set by flags, returning a function that will shutdown the
// background pipelines. When no target is set the global no-op providers are
// left in place.
func initTelemetry(ctx context.Context, name string) (func(context.Context) error, error) {
	target := viper.GetString(OTLPTargetFlagName)
	logger := logger.V(1).WithValues("name", name, "target", target)
	if target == "" {
		logger.Info("OpenTelemetry endpoint is not set; no metrics or traces will be sent to collector")
		return func(_ context.Context) error {
			return nil
		}, nil
	}
	logger.Info("Initializing OpenTelemetry")
	var creds credentials.TransportCredentials
	if !viper.GetBool(OTLPInsecureFlagName) {
		material, err := tlsMaterialFromFlags()
		if err != nil {
			return nil, err
		}
		tlsConfig, err := material.clientConfig(viper.GetString(OTLPAuthorityFlagName), false)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}
	res, err := newTelemetryResource(ctx, name)
	if err != nil {
		return nil, err
	}
	shutdownMetrics, err := initMetrics(ctx, target, creds, res)
	if err != nil {
		return nil, err
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(viper.GetFloat64(OTLPSamplingRatioFlagName)))
	shutdownTraces, err := initTrace(ctx, target, creds, res, sampler)
	if err != nil {
		return nil, multierror.Append(err, shutdownMetrics(ctx))
	}
	logger.Info("OpenTelemetry initialization complete, returning shutdown function")
	return func(ctx context.Context) error {
		var result *multierror.Error
		if err := shutdownTraces(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failure to shutdown trace provider: %w", err))
		}
		if err := shutdownMetrics(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failure to shutdown metric provider: %w", err))
		}
		return result.ErrorOrNil()
	}, nil
}
