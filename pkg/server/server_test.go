package server_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/memes/pimachine/pkg/api"
	"github.com/memes/pimachine/pkg/cache"
	"github.com/memes/pimachine/pkg/server"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	// First 100 fractional digits of pi.
	PiDigits = "1415926535897932384626433832795028841971693993751058209749445923078164062862089986280348253421170679"
	// Largest position that can be checked for a full block.
	TEST_POSITION_LIMIT = uint64(len(PiDigits) - 9 + 1)
)

func testGetDigits(ctx context.Context, t *testing.T, request *api.GetDigitsRequest, piServer api.PiServiceServer) {
	t.Helper()
	count := uint64(request.Count)
	if count == 0 {
		count = 9
	}
	expected := PiDigits[request.Position-1 : request.Position-1+count]
	actual, err := piServer.GetDigits(ctx, request)
	if err != nil {
		t.Errorf("Error calling GetDigits: %v", err)
		return
	}
	if actual.Digits != expected {
		t.Errorf("Checking position: %d: expected %s got %s", request.Position, expected, actual.Digits)
	}
	if actual.Position != request.Position {
		t.Errorf("Checking position: %d: response position %d", request.Position, actual.Position)
	}
	if actual.Metadata == nil || actual.Metadata.Identity == "" {
		t.Errorf("Checking position: %d: missing metadata", request.Position)
	}
}

func testServerWithCache(t *testing.T, testCache cache.Cache) {
	t.Helper()
	ctx := context.Background()
	piServer, err := server.NewPiServer(server.WithCache(testCache), server.WithWorkers(2))
	if err != nil {
		t.Fatalf("Error calling NewPiServer: %v", err)
	}
	// Run twice so that the second pass is served from any real cache.
	for pass := 0; pass < 2; pass++ {
		for position := uint64(1); position <= TEST_POSITION_LIMIT; position++ {
			testGetDigits(ctx, t, &api.GetDigitsRequest{Position: position}, piServer)
			testGetDigits(ctx, t, &api.GetDigitsRequest{Position: position, Count: 1}, piServer)
		}
	}
}

func TestGetDigits_WithNoopCache(t *testing.T) {
	t.Parallel()
	testServerWithCache(t, cache.NewNoopCache())
}

func TestGetDigits_WithMemoryCache(t *testing.T) {
	t.Parallel()
	testCache := cache.NewMemoryCache()
	testServerWithCache(t, testCache)
	// Blocks start at every multiple of 9 up to the last position checked plus
	// the block that follows it.
	expected := int((TEST_POSITION_LIMIT-1)/9) + 2
	if testCache.Len() != expected {
		t.Errorf("Expected %d cached blocks, got %d", expected, testCache.Len())
	}
}

func TestGetDigits_WithRedisCache(t *testing.T) {
	t.Parallel()
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	defer mock.Close()
	testServerWithCache(t, cache.NewRedisCache(context.Background(), mock.Addr()))
	if value, err := mock.Get("9"); err != nil || value != PiDigits[9:18] {
		t.Errorf("Expected cached block %s for key 9, got %s: %v", PiDigits[9:18], value, err)
	}
}

// A cache that always fails.
type errorCache struct{}

var errCacheFailed = errors.New("cache failed")

func (errorCache) GetValue(context.Context, string) (string, error) {
	return "", errCacheFailed
}

func (errorCache) SetValue(context.Context, string, string) error {
	return errCacheFailed
}

func TestGetDigits_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	piServer, err := server.NewPiServer()
	if err != nil {
		t.Fatalf("Error calling NewPiServer: %v", err)
	}
	tests := []struct {
		request  *api.GetDigitsRequest
		expected codes.Code
	}{
		{&api.GetDigitsRequest{Position: 0}, codes.InvalidArgument},
		{&api.GetDigitsRequest{Position: 1, Count: 10}, codes.InvalidArgument},
		{&api.GetDigitsRequest{Position: 1 << 62}, codes.InvalidArgument},
	}
	for _, test := range tests {
		_, err := piServer.GetDigits(ctx, test.request)
		if actual := status.Code(err); actual != test.expected {
			t.Errorf("Checking request: %+v: expected %v got %v", test.request, test.expected, actual)
		}
	}

	failing, err := server.NewPiServer(server.WithCache(errorCache{}))
	if err != nil {
		t.Fatalf("Error calling NewPiServer: %v", err)
	}
	_, err = failing.GetDigits(ctx, &api.GetDigitsRequest{Position: 1})
	if actual := status.Code(err); actual != codes.Internal {
		t.Errorf("Expected %v got %v", codes.Internal, actual)
	}
}

// Start a gRPC server on a loopback port, returning the address.
func startGrpcServer(t *testing.T, piServer *server.PiServer) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Error creating listener: %v", err)
	}
	grpcServer := piServer.NewGrpcServer()
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	t.Cleanup(grpcServer.Stop)
	return listener.Addr().String()
}

func TestGrpcServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	piServer, err := server.NewPiServer(server.WithCache(cache.NewMemoryCache()), server.WithTags([]string{"test"}))
	if err != nil {
		t.Fatalf("Error calling NewPiServer: %v", err)
	}
	address := startGrpcServer(t, piServer)
	//nolint:staticcheck // DialContext is non-blocking without WithBlock
	conn, err := grpc.DialContext(ctx, address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Error dialing server: %v", err)
	}
	defer conn.Close()

	health, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: api.PiServiceName})
	if err != nil {
		t.Errorf("Error calling health check: %v", err)
	} else if health.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", health.Status)
	}

	client := api.NewPiServiceClient(conn)
	response, err := client.GetDigits(ctx, &api.GetDigitsRequest{Position: 5, Count: 7})
	if err != nil {
		t.Fatalf("Error calling GetDigits: %v", err)
	}
	if expected := PiDigits[4:11]; response.Digits != expected {
		t.Errorf("Expected %s got %s", expected, response.Digits)
	}
	if len(response.Metadata.Tags) != 1 || response.Metadata.Tags[0] != "test" {
		t.Errorf("Unexpected tags %v", response.Metadata.Tags)
	}
	_, err = client.GetDigits(ctx, &api.GetDigitsRequest{Position: 0})
	if actual := status.Code(err); actual != codes.InvalidArgument {
		t.Errorf("Expected %v got %v", codes.InvalidArgument, actual)
	}
}

func TestRestGatewayHandler(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	piServer, err := server.NewPiServer()
	if err != nil {
		t.Fatalf("Error calling NewPiServer: %v", err)
	}
	address := startGrpcServer(t, piServer)
	handler, err := piServer.NewRestGatewayHandler(ctx, address)
	if err != nil {
		t.Fatalf("Error calling NewRestGatewayHandler: %v", err)
	}
	tests := []struct {
		path     string
		code     int
		expected string
	}{
		{"/api/v1/digits/1", http.StatusOK, PiDigits[0:9]},
		{"/api/v1/digits/8?count=4", http.StatusOK, PiDigits[7:11]},
		{"/api/v1/digit/20", http.StatusOK, PiDigits[19:20]},
		{"/api/v1/digits/0", http.StatusBadRequest, ""},
		{"/api/v1/digits/abc", http.StatusBadRequest, ""},
		{"/api/v1/digits/1?count=12", http.StatusBadRequest, ""},
	}
	for _, test := range tests {
		test := test
		t.Run(fmt.Sprintf("path=%s", test.path), func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, test.path, nil)
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			if recorder.Code != test.code {
				t.Errorf("Checking path: %s: expected status %d got %d", test.path, test.code, recorder.Code)
			}
			if test.code != http.StatusOK {
				return
			}
			if actual := gjson.GetBytes(recorder.Body.Bytes(), "digits").String(); actual != test.expected {
				t.Errorf("Checking path: %s: expected %s got %s", test.path, test.expected, actual)
			}
		})
	}
}
