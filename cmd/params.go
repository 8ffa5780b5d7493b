// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/config"
	"github.com/Thermoquad/loralink/pkg/session"
)

var paramsWrite bool

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the derived radio parameters and time on air",
	Long: `Print the modulation and packet parameters both peers will use, the
symbol period, whether low data rate optimisation is on, and the time on
air of one test frame.

With --write the effective settings (config file plus flags) are saved to
the config file.`,
	RunE: runParams,
}

func init() {
	rootCmd.AddCommand(paramsCmd)
	paramsCmd.Flags().BoolVar(&paramsWrite, "write", false, "Save the effective settings to --config")
}

func runParams(cmd *cobra.Command, args []string) error {
	sc, err := sessionConfig()
	if err != nil {
		return err
	}

	mp, pp, err := sc.DeriveParams(session.StandardParams{})
	if err != nil {
		return err
	}

	airtime := mp.TimeOnAir(pp)
	fmt.Printf("Modulation:\n")
	fmt.Printf("  Frequency:        %.3f MHz\n", float64(mp.FrequencyHz)/1e6)
	fmt.Printf("  Spreading Factor: %s\n", mp.SpreadingFactor)
	fmt.Printf("  Bandwidth:        %s\n", mp.Bandwidth)
	fmt.Printf("  Coding Rate:      %s\n", mp.CodingRate)
	fmt.Printf("  Symbol Period:    %s\n", mp.SymbolPeriod())
	fmt.Printf("  LDRO:             %v\n", mp.LowDataRateOptimize)
	fmt.Printf("Packet:\n")
	fmt.Printf("  Preamble:         %d symbols\n", pp.PreambleSymbols)
	fmt.Printf("  Payload:          %d bytes\n", pp.PayloadLen)
	fmt.Printf("  CRC:              %v\n", pp.CRC)
	fmt.Printf("  IQ Inverted:      %v\n", pp.InvertIQ)
	fmt.Printf("  Receive Window:   %s\n", pp.RxTimeout)
	fmt.Printf("Time on Air:        %s\n", airtime)
	if sc.InterCycleDelay > 0 {
		cycle := airtime + sc.InterCycleDelay
		fmt.Printf("Duty Cycle:         %.1f%% (one frame every %s)\n",
			float64(airtime)*100/float64(cycle), cycle)
	}

	if paramsWrite {
		if err := config.Write(configPath, cfg); err != nil {
			return fmt.Errorf("failed to write %s: %w", configPath, err)
		}
		fmt.Printf("\nSaved to %s\n", configPath)
	}
	return nil
}
