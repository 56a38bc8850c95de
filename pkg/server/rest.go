package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/memes/pimachine/pkg/api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The REST gateway paths; {position} is the 1-based position of the first digit.
const (
	DigitsPath = "/api/v1/digits/{position}"
	DigitPath  = "/api/v1/digit/{position}"
)

// Create a new REST gateway handler that translates and forwards incoming REST
// requests to the specified gRPC endpoint address. The gRPC connection is
// closed when ctx is done.
func (s *PiServer) NewRestGatewayHandler(ctx context.Context, grpcAddress string) (http.Handler, error) {
	//nolint:staticcheck // DialContext is non-blocking without WithBlock
	conn, err := grpc.DialContext(ctx, grpcAddress, s.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for REST gateway: %w", err)
	}
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil {
			s.logger.Error(err, "Closing REST gateway gRPC connection raised an error; continuing")
		}
	}()
	client := api.NewPiServiceClient(conn)
	marshaler := &runtime.JSONBuiltin{}
	mux := runtime.NewServeMux(runtime.WithMarshalerOption(runtime.MIMEWildcard, marshaler))

	forward := func(count func(*http.Request) (uint32, error)) runtime.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
			ctx := r.Context()
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.String(OpenTelemetryPackageIdentifier+".position", pathParams["position"]))
			position, err := strconv.ParseUint(pathParams["position"], 10, 64)
			if err != nil {
				runtime.HTTPError(ctx, mux, marshaler, w, r, status.Errorf(codes.InvalidArgument, "invalid position %q: %v", pathParams["position"], err))
				return
			}
			n, err := count(r)
			if err != nil {
				runtime.HTTPError(ctx, mux, marshaler, w, r, err)
				return
			}
			response, err := client.GetDigits(ctx, &api.GetDigitsRequest{
				Position: position,
				Count:    n,
			})
			if err != nil {
				runtime.HTTPError(ctx, mux, marshaler, w, r, err)
				return
			}
			body, err := marshaler.Marshal(response)
			if err != nil {
				runtime.HTTPError(ctx, mux, marshaler, w, r, status.Error(codes.Internal, err.Error()))
				return
			}
			w.Header().Set("Content-Type", marshaler.ContentType(response))
			if _, err := w.Write(body); err != nil {
				s.logger.Error(err, "Writing response raised an error; continuing")
			}
		}
	}

	if err := mux.HandlePath(http.MethodGet, DigitsPath, forward(func(r *http.Request) (uint32, error) {
		value := r.URL.Query().Get("count")
		if value == "" {
			return 0, nil
		}
		count, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "invalid count %q: %v", value, err) //nolint:wrapcheck // Errors returned should be gRPC statuses
		}
		return uint32(count), nil
	})); err != nil {
		return nil, fmt.Errorf("failed to register %s handler for REST gateway: %w", DigitsPath, err)
	}
	if err := mux.HandlePath(http.MethodGet, DigitPath, forward(func(_ *http.Request) (uint32, error) {
		return 1, nil
	})); err != nil {
		return nil, fmt.Errorf("failed to register %s handler for REST gateway: %w", DigitPath, err)
	}
	return otelhttp.NewHandler(mux,
		OpenTelemetryPackageIdentifier+"/RestGatewayHandler",
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	), nil
}
