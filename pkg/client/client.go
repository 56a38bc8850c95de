// Package client implements a gRPC client that calls a PiService with optional
// OpenTelemetry metrics and traces.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/memes/pimachine/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
)

const (
	// The default maximum timeout that will be applied to requests.
	DefaultMaxTimeout = 10 * time.Second
	// The default name to use when registering OpenTelemetry components.
	OpenTelemetryPackageIdentifier = "pkg.client"
)

// PiClient fetches digits from a remote PiService.
type PiClient struct {
	// The logr.Logger instance to use.
	logger logr.Logger
	// The client maximum timeout/deadline to use when making requests to a PiService.
	maxTimeout time.Duration
	// A counter for the number of response errors.
	responseErrors metric.Int64Counter
	// A histogram of request durations.
	durationMs metric.Int64Histogram
}

// Defines a function signature for PiClient options.
type PiClientOption func(*PiClient)

// Create a new PiClient with optional settings.
func NewPiClient(options ...PiClientOption) (*PiClient, error) {
	client := &PiClient{
		logger:     logr.Discard(),
		maxTimeout: DefaultMaxTimeout,
	}
	for _, option := range options {
		option(client)
	}
	meter := otel.Meter(OpenTelemetryPackageIdentifier)
	var err error
	client.responseErrors, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".response_errors",
		metric.WithDescription("The count of error responses received by client"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating responseErrors Counter: %w", err)
	}
	client.durationMs, err = meter.Int64Histogram(
		OpenTelemetryPackageIdentifier+".request_duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("The duration (ms) of requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating durationMs Histogram: %w", err)
	}
	return client, nil
}

// Use the supplied logr.logger.
func WithLogger(logger logr.Logger) PiClientOption {
	return func(c *PiClient) {
		c.logger = logger
	}
}

// Set the maximum timeout for client requests to a PiService.
func WithMaxTimeout(maxTimeout time.Duration) PiClientOption {
	return func(c *PiClient) {
		c.maxTimeout = maxTimeout
	}
}

// Retrieve count decimal digits of pi starting at the 1-based position from
// the PiService on conn; a zero count requests a full block.
func (c *PiClient) FetchDigits(ctx context.Context, conn grpc.ClientConnInterface, position uint64, count uint32) (string, error) {
	logger := c.logger.V(1).WithValues("position", position, "count", count)
	logger.Info("FetchDigits: enter")
	attributes := []attribute.KeyValue{
		attribute.Int64(OpenTelemetryPackageIdentifier+".count", int64(count)),
	}
	ctx, span := otel.Tracer(OpenTelemetryPackageIdentifier).Start(ctx, OpenTelemetryPackageIdentifier+"/FetchDigits")
	defer span.End()
	span.SetAttributes(append(attributes, attribute.String(OpenTelemetryPackageIdentifier+".position", fmt.Sprint(position)))...)
	ctx, cancel := context.WithTimeout(ctx, c.maxTimeout)
	defer cancel()
	startTimestamp := time.Now()
	response, err := api.NewPiServiceClient(conn).GetDigits(ctx, &api.GetDigitsRequest{
		Position: position,
		Count:    count,
	})
	duration := time.Since(startTimestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		attributes = append(attributes, attribute.Bool(OpenTelemetryPackageIdentifier+".success", false))
		c.responseErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
		return "", fmt.Errorf("failure calling GetDigits: %w", err)
	}
	attributes = append(attributes, attribute.Bool(OpenTelemetryPackageIdentifier+".success", true))
	c.durationMs.Record(ctx, duration.Milliseconds(), metric.WithAttributes(attributes...))
	logger.Info("FetchDigits: exit", "result", response.Digits, "metadata", response.Metadata)
	return response.Digits, nil
}
