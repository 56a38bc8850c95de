package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/zerologr"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	AppName                       = "pi"
	PackageName                   = "github.com/memes/pimachine/cmd/pi"
	EnvPrefix                     = "PIMACHINE"
	DefaultOTLPTraceSamplingRatio = 0.5
	VerboseFlagName               = "verbose"
	PrettyFlagName                = "pretty"
	OTLPTargetFlagName            = "otlp-target"
	OTLPInsecureFlagName          = "otlp-insecure"
	OTLPAuthorityFlagName         = "otlp-authority"
	OTLPSamplingRatioFlagName     = "otlp-sampling-ratio"
	CACertFlagName                = "cacert"
	TLSCertFlagName               = "cert"
	TLSKeyFlagName                = "key"
)

// Version is updated from git tags during build.
var version = "unspecified"

// Bind each named flag in flags to the viper key of the same name.
func bindFlags(flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind %s pflag: %w", name, err)
		}
	}
	return nil
}

// Returns a cobra PreRunE function that binds the command's named flags to viper
// at execution time, so that sub-commands can reuse flag names.
func bindCommandFlags(names ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd.Flags(), names...)
	}
}

func NewRootCmd() (*cobra.Command, error) {
	cobra.OnInitialize(initConfig)
	rootCmd := &cobra.Command{
		Use:     AppName,
		Version: version,
		Short:   "Calculate decimal digits of pi at arbitrary positions",
		Long: `Calculates decimal digits of pi at an arbitrary position without computing the preceding digits.

Digits can be calculated locally, served from a gRPC PiService with optional REST gateway, requested from one or more PiService endpoints, or sent to a thermal printer.`,
	}
	rootCmd.PersistentFlags().CountP(VerboseFlagName, "v", "Enable verbose logging; can be repeated to increase verbosity")
	rootCmd.PersistentFlags().BoolP(PrettyFlagName, "p", false, "Disables structured JSON logging, making it easier to read")
	rootCmd.PersistentFlags().String(OTLPTargetFlagName, "", "An optional OpenTelemetry collection target that will receive metrics and traces")
	rootCmd.PersistentFlags().Bool(OTLPInsecureFlagName, false, "Disable remote TLS verification for OpenTelemetry target")
	rootCmd.PersistentFlags().String(OTLPAuthorityFlagName, "", "Set the authoritative name of the OpenTelemetry target for TLS verification, overriding hostname")
	rootCmd.PersistentFlags().Float64(OTLPSamplingRatioFlagName, DefaultOTLPTraceSamplingRatio, "Set the OpenTelemetry trace sampling ratio")
	rootCmd.PersistentFlags().StringArray(CACertFlagName, nil, "An optional CA certificate to use for remote TLS verification; can be repeated")
	rootCmd.PersistentFlags().String(TLSCertFlagName, "", "An optional TLS certificate to use")
	rootCmd.PersistentFlags().String(TLSKeyFlagName, "", "An optional TLS private key to use")
	if err := bindFlags(rootCmd.PersistentFlags(),
		VerboseFlagName,
		PrettyFlagName,
		OTLPTargetFlagName,
		OTLPInsecureFlagName,
		OTLPAuthorityFlagName,
		OTLPSamplingRatioFlagName,
		CACertFlagName,
		TLSCertFlagName,
		TLSKeyFlagName,
	); err != nil {
		return nil, err
	}
	digitsCmd, err := NewDigitsCmd()
	if err != nil {
		return nil, err
	}
	serverCmd, err := NewServerCmd()
	if err != nil {
		return nil, err
	}
	clientCmd, err := NewClientCmd()
	if err != nil {
		return nil, err
	}
	printCmd, err := NewPrintCmd()
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(digitsCmd, serverCmd, clientCmd, printCmd)
	return rootCmd, nil
}

// Determine the outcome of command line flags, environment variables, and an
// optional configuration file to perform initialization of the application. An
// appropriate zerolog will be assigned as the default logr sink.
func initConfig() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zl := zerolog.New(os.Stderr).With().Caller().Timestamp().Logger()
	viper.AddConfigPath(".")
	if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigName(".pimachine")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	verbosity := viper.GetInt(VerboseFlagName)
	switch {
	case verbosity > 2:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case verbosity == 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	if viper.GetBool(PrettyFlagName) {
		zl = zl.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger = zerologr.New(&zl)
	if err == nil {
		return
	}
	var cfgNotFound viper.ConfigFileNotFoundError
	if !errors.As(err, &cfgNotFound) {
		logger.Error(err, "Error reading configuration file")
	}
}
