package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	pi "github.com/memes/pimachine"
	"github.com/olekukonko/tablewriter"
	"github.com/sjmudd/stopwatch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DigitsServiceName   = "digits"
	DefaultDigitsCount  = pi.BlockSize
	DigitsCountFlagName = "count"
	WorkersFlagName     = "workers"
	BBPFlagName         = "bbp"
	TableFlagName       = "table"
)

// A calculated block of digits with the details needed for reporting.
type digitsBlock struct {
	position uint64
	digits   string
	params   pi.Parameters
}

// Implements the digits sub-command which calculates digits locally.
func NewDigitsCmd() (*cobra.Command, error) {
	digitsCmd := &cobra.Command{
		Use:   DigitsServiceName + " position",
		Short: "Calculate decimal digits of pi starting at a 1-based position",
		Long: `Calculates decimal digits of pi locally, starting at the 1-based position given.

Digits are calculated in blocks of 9, each independent of the others.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: bindCommandFlags(DigitsCountFlagName, WorkersFlagName, BBPFlagName, TableFlagName),
		RunE:    digitsMain,
	}
	digitsCmd.Flags().IntP(DigitsCountFlagName, "c", DefaultDigitsCount, "The number of decimal digits of pi to calculate")
	digitsCmd.Flags().IntP(WorkersFlagName, "w", 0, "The number of goroutines to use per block; 0 uses GOMAXPROCS")
	digitsCmd.Flags().Bool(BBPFlagName, false, "Use the slower prime-by-prime spigot instead of the binomial series")
	digitsCmd.Flags().Bool(TableFlagName, false, "Print a table of blocks with parameters and timings")
	return digitsCmd, nil
}

// Digits sub-command entrypoint.
func digitsMain(cmd *cobra.Command, args []string) error {
	position, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid position %q: %w", args[0], err)
	}
	count := viper.GetInt(DigitsCountFlagName)
	if count < 1 {
		return fmt.Errorf("count %d: %w", count, pi.ErrInvalidCount)
	}
	workers := viper.GetInt(WorkersFlagName)
	bbp := viper.GetBool(BBPFlagName)
	logger := logger.V(1).WithValues("position", position, "count", count, "workers", workers, "bbp", bbp)
	logger.Info("Calculating digits")
	watch := stopwatch.NewNamedStopwatch()
	blocks, err := calculateBlocks(cmd.Context(), watch, position, count, workers, bbp)
	if err != nil {
		return err
	}
	if viper.GetBool(TableFlagName) {
		return renderBlocks(cmd.OutOrStdout(), watch, blocks)
	}
	var sb strings.Builder
	for _, block := range blocks {
		sb.WriteString(block.digits)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sb.String())
	return nil
}

// Calculates count digits from position in blocks, timing each block with the
// named stopwatch.
func calculateBlocks(ctx context.Context, watch *stopwatch.NamedStopwatch, position uint64, count, workers int, bbp bool) ([]digitsBlock, error) {
	blocks := make([]digitsBlock, 0, (count+pi.BlockSize-1)/pi.BlockSize)
	for offset := 0; offset < count; offset += pi.BlockSize {
		n := position + uint64(offset)
		size := min(pi.BlockSize, count-offset)
		params, err := pi.NewParameters(n)
		if err != nil {
			return nil, err
		}
		name := strconv.FormatUint(n, 10)
		watch.Add(name)
		watch.Start(name)
		var digits string
		if bbp {
			digits, err = pi.BBPDigits(n)
			if err == nil {
				digits = digits[:size]
			}
		} else {
			digits, err = pi.DigitsContext(ctx, n, size, workers)
		}
		watch.Stop(name)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, digitsBlock{
			position: n,
			digits:   digits,
			params:   params,
		})
	}
	return blocks, nil
}

// Writes a table of the calculated blocks to w.
func renderBlocks(w io.Writer, watch *stopwatch.NamedStopwatch, blocks []digitsBlock) error {
	table := tablewriter.NewWriter(w)
	table.Header("Position", "Digits", "M", "N", "Elapsed")
	for _, block := range blocks {
		if err := table.Append(
			strconv.FormatUint(block.position, 10),
			block.digits,
			strconv.FormatInt(block.params.M, 10),
			strconv.FormatInt(block.params.N, 10),
			watch.Elapsed(strconv.FormatUint(block.position, 10)).String(),
		); err != nil {
			return fmt.Errorf("failed to append table row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
