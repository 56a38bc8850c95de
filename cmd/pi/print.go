package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/memes/pimachine/pkg/printer"
	"github.com/sjmudd/stopwatch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	PrintServiceName      = "print"
	DefaultPrinterDevice  = "/dev/serial0"
	DeviceFlagName        = "device"
	StatusTimeoutFlagName = "status-timeout"
	IgnorePaperFlagName   = "ignore-paper"
	PrintCountFlagName    = "count"
	PrintWorkersFlagName  = "workers"
)

var errNoPaper = errors.New("printer reports that it is out of paper")

// Implements the print sub-command which sends calculated digits to a serial
// thermal printer.
func NewPrintCmd() (*cobra.Command, error) {
	printCmd := &cobra.Command{
		Use:   PrintServiceName + " position",
		Short: "Calculate decimal digits of pi and print them on a thermal printer",
		Long: `Calculates decimal digits of pi starting at the 1-based position given and sends them to a serial thermal printer.

The printer is reset and checked for paper before printing.`,
		Args: cobra.ExactArgs(1),
		PreRunE: bindCommandFlags(
			DeviceFlagName,
			StatusTimeoutFlagName,
			IgnorePaperFlagName,
			PrintCountFlagName,
			PrintWorkersFlagName,
		),
		RunE: printMain,
	}
	printCmd.Flags().StringP(DeviceFlagName, "d", DefaultPrinterDevice, "The serial device attached to the printer")
	printCmd.Flags().Duration(StatusTimeoutFlagName, printer.DefaultStatusTimeout, "The maximum time to wait for a printer status response")
	printCmd.Flags().Bool(IgnorePaperFlagName, false, "Print even if the printer does not report paper")
	printCmd.Flags().IntP(PrintCountFlagName, "c", DefaultDigitsCount, "The number of decimal digits of pi to print")
	printCmd.Flags().IntP(PrintWorkersFlagName, "w", 0, "The number of goroutines to use per block; 0 uses GOMAXPROCS")
	return printCmd, nil
}

// Print sub-command entrypoint.
func printMain(cmd *cobra.Command, args []string) error {
	position, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid position %q: %w", args[0], err)
	}
	device := viper.GetString(DeviceFlagName)
	logger := logger.WithValues("position", position, "device", device)
	blocks, err := calculateBlocks(cmd.Context(), stopwatch.NewNamedStopwatch(), position, viper.GetInt(PrintCountFlagName), viper.GetInt(PrintWorkersFlagName), false)
	if err != nil {
		return err
	}
	port, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open printer device %s: %w", device, err)
	}
	defer port.Close()
	p := printer.New(port,
		printer.WithLogger(logger),
		printer.WithStatusTimeout(viper.GetDuration(StatusTimeoutFlagName)),
	)
	if err := printBlocks(p, blocks, viper.GetBool(IgnorePaperFlagName)); err != nil {
		return err
	}
	logger.V(1).Info("Digits printed", "blocks", len(blocks), "responseTime", p.ResponseTime)
	return nil
}

// Resets the printer, checks for paper unless ignorePaper is set, and prints
// each block in turn.
func printBlocks(p *printer.Printer, blocks []digitsBlock, ignorePaper bool) error {
	if err := p.Begin(); err != nil {
		return fmt.Errorf("failed to initialize printer: %w", err)
	}
	if !ignorePaper {
		paper, err := p.Paper()
		if err != nil {
			return fmt.Errorf("failed to read printer paper status: %w", err)
		}
		if !paper {
			return errNoPaper
		}
	}
	for _, block := range blocks {
		if err := p.PrintDigits(block.position, block.digits); err != nil {
			return fmt.Errorf("failed to print digits at position %d: %w", block.position, err)
		}
	}
	return nil
}
