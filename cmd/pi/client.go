package main

import (
	"context"
	"fmt"
	"io"
	"time"

	pi "github.com/memes/pimachine"
	"github.com/memes/pimachine/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ClientServiceName       = "client"
	DefaultDigitCount       = 100
	DefaultMaxTimeout       = 10 * time.Second
	DefaultClientParallel   = 8
	ClientCountFlagName     = "count"
	MaxTimeoutFlagName      = "max-timeout"
	InsecureFlagName        = "insecure"
	AuthorityFlagName       = "authority"
	ClientParallelFlagName  = "parallel"
	ClientPlaintextFlagName = "plaintext"
)

// Implements the client sub-command which connects to one or more PiService
// instances and builds up the digits of pi through multiple requests.
func NewClientCmd() (*cobra.Command, error) {
	clientCmd := &cobra.Command{
		Use:   ClientServiceName + " target [target]",
		Short: "Run a gRPC PiService client to request fractional digits of pi",
		Long: `Launches a gRPC client that will connect to PiService target(s) and request the fractional digits of pi.

Requests for blocks of 9 digits are distributed across the targets and the collated result is printed. At least one target endpoint must be provided. Metrics and traces will be sent to an OpenTelemetry collection endpoint, if specified.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: bindCommandFlags(
			ClientCountFlagName,
			MaxTimeoutFlagName,
			InsecureFlagName,
			AuthorityFlagName,
			ClientParallelFlagName,
			ClientPlaintextFlagName,
		),
		RunE: clientMain,
	}
	clientCmd.Flags().UintP(ClientCountFlagName, "c", DefaultDigitCount, "The number of decimal digits of pi to request")
	clientCmd.Flags().DurationP(MaxTimeoutFlagName, "m", DefaultMaxTimeout, "The maximum timeout for a PiService request")
	clientCmd.Flags().Bool(InsecureFlagName, false, "Disable TLS verification of PiService")
	clientCmd.Flags().Bool(ClientPlaintextFlagName, false, "Connect to PiService without TLS")
	clientCmd.Flags().String(AuthorityFlagName, "", "Set the authoritative name of the PiService target for TLS verification, overriding hostname")
	clientCmd.Flags().Int(ClientParallelFlagName, DefaultClientParallel, "The maximum number of concurrent PiService requests")
	return clientCmd, nil
}

// Client sub-command entrypoint. This function will launch gRPC requests for
// each block of fractional digits requested and print the collated result.
func clientMain(cmd *cobra.Command, endpoints []string) error {
	count := viper.GetUint(ClientCountFlagName)
	logger := logger.WithValues("count", count, "endpoints", endpoints)
	ctx := cmd.Context()
	logger.V(1).Info("Preparing telemetry")
	shutdownTelemetry, err := initTelemetry(ctx, ClientServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error(err, "Error raised while shutting down telemetry; continuing")
		}
	}()
	dialOptions := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	if viper.GetBool(ClientPlaintextFlagName) {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		material, err := tlsMaterialFromFlags()
		if err != nil {
			return err
		}
		tlsConfig, err := material.clientConfig("", viper.GetBool(InsecureFlagName))
		if err != nil {
			return err
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		if authority := viper.GetString(AuthorityFlagName); authority != "" {
			dialOptions = append(dialOptions, grpc.WithAuthority(authority))
		}
	}
	conns := make([]grpc.ClientConnInterface, 0, len(endpoints))
	for _, endpoint := range endpoints {
		//nolint:staticcheck // DialContext is non-blocking without WithBlock
		conn, err := grpc.DialContext(ctx, endpoint, dialOptions...)
		if err != nil {
			return fmt.Errorf("failed to create gRPC connection to %s: %w", endpoint, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	piClient, err := client.NewPiClient(
		client.WithLogger(logger),
		client.WithMaxTimeout(viper.GetDuration(MaxTimeoutFlagName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create new PiClient: %w", err)
	}
	digits := collateDigits(ctx, piClient, conns, count, viper.GetInt(ClientParallelFlagName))
	return writeResult(cmd.OutOrStdout(), digits)
}

// Requests count digits as blocks from the connections in turn, with at most
// parallel requests in flight. A digit that could not be retrieved is '-'.
func collateDigits(ctx context.Context, piClient *client.PiClient, conns []grpc.ClientConnInterface, count uint, parallel int) []byte {
	digits := make([]byte, count)
	for i := range digits {
		digits[i] = '-'
	}
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, offset := 0, uint(0); offset < count; i, offset = i+1, offset+pi.BlockSize {
		offset := offset
		conn := conns[i%len(conns)]
		size := min(uint(pi.BlockSize), count-offset)
		g.Go(func() error {
			block, err := piClient.FetchDigits(ctx, conn, uint64(offset)+1, uint32(size))
			if err != nil {
				logger.Error(err, "Error fetching digits", "position", offset+1)
				return nil
			}
			copy(digits[offset:offset+size], block)
			return nil
		})
	}
	_ = g.Wait()
	return digits
}

// Writes the collated digits of pi to w.
func writeResult(w io.Writer, digits []byte) error {
	if _, err := fmt.Fprintf(w, "Result is: 3.%s\n", digits); err != nil {
		return fmt.Errorf("failure writing result: %w", err)
	}
	return nil
}
