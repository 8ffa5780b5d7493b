// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/session"
)

var sendDelay string

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Transmit the test frame every cycle",
	Long: `Run the sender role.

Every cycle arms the transmitter, sends the canonical test frame and waits
the inter-cycle delay. A transmit fault stops the sender: the link cannot be
tested once the transmitter misbehaves.

The activity LED (--led) is lit for the duration of each transmission.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendDelay, "delay", "", "Delay between transmissions (default from config, 500ms)")
}

func runSend(cmd *cobra.Command, args []string) error {
	sc, err := sessionConfig()
	if err != nil {
		return err
	}
	if sendDelay != "" {
		if sc.InterCycleDelay, err = parseDuration("delay", sendDelay); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := OpenBoard(ctx, "sender")
	if err != nil {
		return err
	}
	defer board.Close()

	obs, err := startObserver(ctx, true)
	if err != nil {
		return err
	}
	defer obs.Close()

	fmt.Printf("loralink - Sender\n")
	fmt.Printf("Connection: %s\n", board.Info)
	fmt.Printf("Radio: %s\n", sc)
	fmt.Printf("Delay: %s\n", sc.InterCycleDelay)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sender := session.NewSender(sc, board.Transport,
		session.WithIndicator(board.Indicator),
		session.WithSink(obs.Sink()))

	err = sender.Run(ctx)

	fmt.Println()
	fmt.Print(obs.stats.String())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
