// Package server implements a gRPC server (and optional REST gateway) that
// satisfies the PiServiceServer interface requirements, with optional
// OpenTelemetry metrics and traces.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	pi "github.com/memes/pimachine"
	"github.com/memes/pimachine/pkg/api"
	cachepkg "github.com/memes/pimachine/pkg/cache"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	// The default name to use when using OpenTelemetry components.
	OpenTelemetryPackageIdentifier = "pkg.server"
)

type PiServer struct {
	api.UnimplementedPiServiceServer
	// The logr.Logger implementation to use
	logger logr.Logger
	// An optional cache implementation
	cache cachepkg.Cache
	// The number of goroutines to use for each calculation; < 1 uses GOMAXPROCS
	workers int
	// Holds the instance specific metadata that will be returned in PiService responses
	metadata *api.Metadata
	// A histogram of calculation durations
	calculationMs metric.Int64Histogram
	// A counter for the number of errors returned by calculations
	calculationErrors metric.Int64Counter
	// A counter for the number of errors returned by cache
	cacheErrors metric.Int64Counter
	// A counter for cache hits
	cacheHits metric.Int64Counter
	// A counter for cache misses
	cacheMisses metric.Int64Counter
	// A set of gRPC ServerOptions to use
	serverOptions []grpc.ServerOption
	// A set of gRPC DialOptions to use with REST gateway gRPC client
	dialOptions []grpc.DialOption
}

// Defines the function signature for PiServer options.
type PiServerOption func(*PiServer)

// Create a new PiServer and apply any options.
func NewPiServer(options ...PiServerOption) (*PiServer, error) {
	var hostname string
	if host, err := os.Hostname(); err == nil {
		hostname = host
	} else {
		hostname = "unknown"
	}
	server := &PiServer{
		logger:  logr.Discard(),
		cache:   cachepkg.NewNoopCache(),
		workers: 1,
		metadata: &api.Metadata{
			Identity:    hostname,
			Tags:        []string{},
			Annotations: map[string]string{},
		},
		serverOptions: []grpc.ServerOption{
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
		},
		dialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	}
	for _, option := range options {
		option(server)
	}
	meter := otel.Meter(OpenTelemetryPackageIdentifier)
	var err error
	server.calculationMs, err = meter.Int64Histogram(
		OpenTelemetryPackageIdentifier+".calc_duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("The duration (ms) of calculations"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating calculationMs Histogram: %w", err)
	}
	server.calculationErrors, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".calc_errors",
		metric.WithDescription("The count of failed calculations"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating calculationErrors Counter: %w", err)
	}
	server.cacheErrors, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_errors",
		metric.WithDescription("The count of error responses from digit cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheErrors Counter: %w", err)
	}
	server.cacheHits, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_hits",
		metric.WithDescription("The count of cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheHits Counter: %w", err)
	}
	server.cacheMisses, err = meter.Int64Counter(
		OpenTelemetryPackageIdentifier+".cache_misses",
		metric.WithDescription("The count of cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheMisses Counter: %w", err)
	}
	return server, nil
}

// Use the supplied logger for the server and pi packages.
func WithLogger(logger logr.Logger) PiServerOption {
	return func(s *PiServer) {
		s.logger = logger
		pi.SetLogger(logger)
	}
}

// Use the Cache implementation to store calculated blocks of digits to avoid
// recalculation of digits that have already been calculated.
func WithCache(cache cachepkg.Cache) PiServerOption {
	return func(s *PiServer) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// Set the number of goroutines used by each calculation.
func WithWorkers(workers int) PiServerOption {
	return func(s *PiServer) {
		s.workers = workers
	}
}

// Add the string tags to the server's metadata.
func WithTags(tags []string) PiServerOption {
	return func(s *PiServer) {
		if tags != nil {
			s.metadata.Tags = append(s.metadata.Tags, tags...)
		}
	}
}

// Add the key-value annotations to the server's metadata.
func WithAnnotations(annotations map[string]string) PiServerOption {
	return func(s *PiServer) {
		for k, v := range annotations {
			s.metadata.Annotations[k] = v
		}
	}
}

// Set the TransportCredentials to use for Pi Service gRPC listener.
func WithGRPCServerTransportCredentials(serverCredentials credentials.TransportCredentials) PiServerOption {
	return func(s *PiServer) {
		if serverCredentials != nil {
			s.serverOptions = append(s.serverOptions, grpc.Creds(serverCredentials))
		}
	}
}

// Set the TransportCredentials to use for Pi Service REST-to-gRPC client.
func WithRestClientGRPCTransportCredentials(restClientGRPCCredentials credentials.TransportCredentials) PiServerOption {
	return func(s *PiServer) {
		if restClientGRPCCredentials != nil {
			s.dialOptions = append(s.dialOptions, grpc.WithTransportCredentials(restClientGRPCCredentials))
		}
	}
}

// Set the authority string to use for REST-gRPC gateway calls.
func WithRestClientAuthority(restClientAuthority string) PiServerOption {
	return func(s *PiServer) {
		if restClientAuthority != "" {
			s.dialOptions = append(s.dialOptions, grpc.WithAuthority(restClientAuthority))
		}
	}
}

// Converts a calculation error into a gRPC status error.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, pi.ErrInvalidPosition), errors.Is(err, pi.ErrPositionTooLarge), errors.Is(err, pi.ErrInvalidCount):
		return status.Error(codes.InvalidArgument, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err() //nolint:wrapcheck // Errors returned should be gRPC statuses
	default:
		return status.Error(codes.Internal, err.Error()) //nolint:wrapcheck // Errors returned should be gRPC statuses
	}
}

// Returns the block of pi.BlockSize digits that begins at the zero-based index
// start, which must be a multiple of pi.BlockSize, from cache or by
// calculation.
func (s *PiServer) block(ctx context.Context, span trace.Span, start uint64) (string, error) {
	key := strconv.FormatUint(start, 16)
	attributes := []attribute.KeyValue{
		attribute.String(OpenTelemetryPackageIdentifier+".cacheKey", key),
	}
	span.AddEvent("Checking cache", trace.WithAttributes(attributes...))
	digits, err := s.cache.GetValue(ctx, key)
	if err != nil {
		s.cacheErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return "", fmt.Errorf("cache %T GetValue method returned an error: %w", s.cache, err)
	}
	if len(digits) == pi.BlockSize {
		s.cacheHits.Add(ctx, 1, metric.WithAttributes(attributes...))
		return digits, nil
	}
	span.AddEvent("Calculating fractional digits", trace.WithAttributes(attributes...))
	s.cacheMisses.Add(ctx, 1, metric.WithAttributes(attributes...))
	ts := time.Now()
	digits, err = pi.DigitsContext(ctx, start+1, pi.BlockSize, s.workers)
	if err != nil {
		s.calculationErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return "", err
	}
	s.calculationMs.Record(ctx, time.Since(ts).Milliseconds(), metric.WithAttributes(attributes...))
	if err = s.cache.SetValue(ctx, key, digits); err != nil {
		s.cacheErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
		return "", fmt.Errorf("cache %T SetValue method returned an error: %w", s.cache, err)
	}
	return digits, nil
}

// Implement the PiService GetDigits RPC method.
func (s *PiServer) GetDigits(ctx context.Context, in *api.GetDigitsRequest) (*api.GetDigitsResponse, error) {
	logger := s.logger.WithValues("position", in.Position, "count", in.Count)
	logger.Info("GetDigits: enter")
	ctx, span := otel.Tracer(OpenTelemetryPackageIdentifier).Start(ctx, OpenTelemetryPackageIdentifier+"/GetDigits")
	defer span.End()
	span.SetAttributes(
		attribute.String(OpenTelemetryPackageIdentifier+".position", strconv.FormatUint(in.Position, 10)),
		attribute.Int64(OpenTelemetryPackageIdentifier+".count", int64(in.Count)),
	)
	digits, err := s.digits(ctx, span, in.Position, in.Count)
	if err != nil {
		logger.Error(err, "GetDigits failed")
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, statusFromError(err)
	}
	logger.Info("GetDigits: exit", "digits", digits)
	return &api.GetDigitsResponse{
		Position: in.Position,
		Digits:   digits,
		Metadata: s.metadata,
	}, nil
}

// Returns count digits starting at the 1-based position, joining two cached
// blocks when the requested digits straddle a block boundary.
func (s *PiServer) digits(ctx context.Context, span trace.Span, position uint64, count uint32) (string, error) {
	if position == 0 {
		return "", pi.ErrInvalidPosition
	}
	if count == 0 {
		count = pi.BlockSize
	}
	if count > pi.BlockSize {
		return "", fmt.Errorf("count %d: %w", count, pi.ErrInvalidCount)
	}
	index := position - 1
	start := (index / pi.BlockSize) * pi.BlockSize
	offset := int(index - start)
	digits, err := s.block(ctx, span, start)
	if err != nil {
		return "", err
	}
	if offset+int(count) > pi.BlockSize {
		next, err := s.block(ctx, span, start+pi.BlockSize)
		if err != nil {
			return "", err
		}
		digits += next
	}
	return digits[offset : offset+int(count)], nil
}

// Create a new grpc.Server that is ready to be attached to a net.Listener.
func (s *PiServer) NewGrpcServer() *grpc.Server {
	s.logger.V(1).Info("Building a standard gRPC server")
	grpcServer := grpc.NewServer(s.serverOptions...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.PiServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	api.RegisterPiServiceServer(grpcServer, s)
	return grpcServer
}
