package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memes/pimachine/pkg/cache"
	"github.com/memes/pimachine/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	ServerServiceName        = "server"
	DefaultGRPCListenAddress = ":8443"
	DefaultShutdownTimeout   = 60 * time.Second
	AddressFlagName          = "address"
	RestAddressFlagName      = "rest-address"
	RestAuthorityFlagName    = "rest-authority"
	RedisTargetFlagName      = "redis-target"
	CacheTTLFlagName         = "cache-ttl"
	NoCacheFlagName          = "no-cache"
	LabelFlagName            = "label"
	TagFlagName              = "tag"
	TLSClientAuthFlagName    = "tls-client-auth"
	ServerWorkersFlagName    = "workers"
)

// Implements the server sub-command.
func NewServerCmd() (*cobra.Command, error) {
	serverCmd := &cobra.Command{
		Use:   ServerServiceName,
		Short: "Run gRPC service to return fractional digits of pi",
		Long: `Launches a gRPC PiService server that can calculate the decimal digits of pi.

Up to 9 decimal digits will be returned per request. Calculated blocks are cached in memory by default, or in Redis if a target is given. An optional REST gateway can be launched alongside the gRPC service. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		Args: cobra.NoArgs,
		PreRunE: bindCommandFlags(
			AddressFlagName,
			RestAddressFlagName,
			RestAuthorityFlagName,
			RedisTargetFlagName,
			CacheTTLFlagName,
			NoCacheFlagName,
			LabelFlagName,
			TagFlagName,
			TLSClientAuthFlagName,
			ServerWorkersFlagName,
		),
		RunE: serverMain,
	}
	serverCmd.Flags().StringP(AddressFlagName, "a", DefaultGRPCListenAddress, "Address to listen for gRPC PiService requests")
	serverCmd.Flags().String(RestAddressFlagName, "", "An optional listen address to launch a REST/gRPC gateway process")
	serverCmd.Flags().String(RestAuthorityFlagName, "", "Set the authoritative name of the PiService for REST gateway TLS verification, overriding hostname")
	serverCmd.Flags().String(RedisTargetFlagName, "", "An optional Redis endpoint to use as a PiService cache")
	serverCmd.Flags().Duration(CacheTTLFlagName, 0, "An optional expiration for cached blocks; 0 uses the cache default")
	serverCmd.Flags().Bool(NoCacheFlagName, false, "Disable caching of calculated blocks")
	serverCmd.Flags().StringToStringP(LabelFlagName, "l", nil, "An optional label key=value to add to PiService response metadata; can be repeated")
	serverCmd.Flags().StringSlice(TagFlagName, nil, "An optional tag to add to PiService response metadata; can be repeated")
	serverCmd.Flags().Bool(TLSClientAuthFlagName, false, "Require PiService clients to provide a valid TLS client certificate")
	serverCmd.Flags().IntP(ServerWorkersFlagName, "w", 1, "The number of goroutines to use per calculation; 0 uses GOMAXPROCS")
	return serverCmd, nil
}

// Returns the Cache implementation selected by flags.
func newServerCache(ctx context.Context) cache.Cache {
	ttl := viper.GetDuration(CacheTTLFlagName)
	switch redisTarget := viper.GetString(RedisTargetFlagName); {
	case viper.GetBool(NoCacheFlagName):
		return cache.NewNoopCache()
	case redisTarget != "":
		options := []cache.RedisCacheOption{}
		if ttl > 0 {
			options = append(options, cache.WithRedisTTL(ttl))
		}
		return cache.NewRedisCache(ctx, redisTarget, options...)
	default:
		options := []cache.MemoryCacheOption{}
		if ttl > 0 {
			options = append(options, cache.WithMemoryExpiration(ttl))
		}
		return cache.NewMemoryCache(options...)
	}
}

// Server sub-command entrypoint. This function will launch the gRPC PiService
// and an optional REST gateway.
func serverMain(cmd *cobra.Command, _ []string) error {
	address := viper.GetString(AddressFlagName)
	restAddress := viper.GetString(RestAddressFlagName)
	logger := logger.WithValues("address", address, "restAddress", restAddress)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger.V(1).Info("Preparing telemetry")
	shutdownTelemetry, err := initTelemetry(ctx, ServerServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error(err, "Error raised while shutting down telemetry; continuing")
		}
	}()

	logger.V(1).Info("Preparing services")
	material, err := tlsMaterialFromFlags()
	if err != nil {
		return err
	}
	options := []server.PiServerOption{
		server.WithLogger(logger),
		server.WithCache(newServerCache(ctx)),
		server.WithWorkers(viper.GetInt(ServerWorkersFlagName)),
		server.WithAnnotations(viper.GetStringMapString(LabelFlagName)),
		server.WithTags(viper.GetStringSlice(TagFlagName)),
	}
	if !material.hasKeyPair() {
		logger.V(1).Info("TLS certificate and key are not set; PiService will use insecure transport")
	} else {
		serverTLSConfig, err := material.serverConfig(viper.GetBool(TLSClientAuthFlagName))
		if err != nil {
			return err
		}
		options = append(options, server.WithGRPCServerTransportCredentials(credentials.NewTLS(serverTLSConfig)))
		clientTLSConfig, err := material.clientConfig("", false)
		if err != nil {
			return err
		}
		options = append(options,
			server.WithRestClientGRPCTransportCredentials(credentials.NewTLS(clientTLSConfig)),
			server.WithRestClientAuthority(viper.GetString(RestAuthorityFlagName)),
		)
	}
	piServer, err := server.NewPiServer(options...)
	if err != nil {
		return fmt.Errorf("failed to create new PiServer: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	grpcServer := piServer.NewGrpcServer()
	var restServer *http.Server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.V(1).Info("Starting gRPC service")
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("failed to start gRPC listener: %w", err)
		}
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
		return nil
	})
	if restAddress != "" {
		restHandler, err := piServer.NewRestGatewayHandler(ctx, address)
		if err != nil {
			return fmt.Errorf("failed to create new REST gateway handler: %w", err)
		}
		restServer = &http.Server{
			Addr:              restAddress,
			Handler:           restHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.V(1).Info("Starting REST/gRPC gateway")
			if err := restServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("restServer listener returned an error: %w", err)
			}
			return nil
		})
	}

	select {
	case <-interrupt:
		logger.V(1).Info("Shutting down on signal")
	case <-ctx.Done():
		logger.V(1).Info("Shutting down on error")
	}
	cancel()
	shutdownCtx, shutdown := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdown()
	if restServer != nil {
		if err := restServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Failed to shutdown REST gateway cleanly")
		}
	}
	grpcServer.GracefulStop()
	return g.Wait() //nolint:wrapcheck // Errors are wrapped by the goroutines
}
