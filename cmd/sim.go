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
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/loralink/pkg/linkstats"
	"github.com/Thermoquad/loralink/pkg/platform"
	"github.com/Thermoquad/loralink/pkg/session"
	"github.com/Thermoquad/loralink/pkg/telemetry"
)

var (
	simLoss       float64
	simCorruption float64
	simAirtime    bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run sender and receiver in-process over a simulated channel",
	Long: `Run both roles against a simulated medium.

The sender and the receiver each own a simulated radio on the same medium.
Frames reach the receiver only while it is armed on matching modulation.
Loss and corruption probabilities exercise the malformed and timeout paths.

With --count the run stops once the receiver has completed that many
cycles; otherwise it runs until interrupted.`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().Float64Var(&simLoss, "loss", 0, "Probability a frame is lost (0-1)")
	simCmd.Flags().Float64Var(&simCorruption, "corruption", 0, "Probability a delivered frame has one byte corrupted (0-1)")
	simCmd.Flags().BoolVar(&simAirtime, "airtime", true, "Delay transmissions by their time on air")
}

func runSim(cmd *cobra.Command, args []string) error {
	sc, err := sessionConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("loss") {
		cfg.Sim.Loss = simLoss
	}
	if cmd.Flags().Changed("corruption") {
		cfg.Sim.Corruption = simCorruption
	}
	if cmd.Flags().Changed("airtime") {
		cfg.Sim.Airtime = simAirtime
	}
	cfg.Transport.Kind = platform.KindSim

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	medium := platform.SimMedium(cfg.Sim)
	boards := make(map[session.Role]*platform.Board)
	for role, name := range map[session.Role]string{session.RoleSender: "sender", session.RoleReceiver: "receiver"} {
		bc, err := boardConfig(name, medium)
		if err != nil {
			return err
		}
		board, err := platform.Init(ctx, bc)
		if err != nil {
			return err
		}
		defer board.Close()
		boards[role] = board
	}

	obs, err := startObserver(ctx, true)
	if err != nil {
		return err
	}
	defer obs.Close()
	senderStats := linkstats.New()

	fmt.Printf("loralink - Simulation\n")
	fmt.Printf("Radio: %s\n", sc)
	fmt.Printf("Channel: loss %.0f%%, corruption %.0f%%, airtime %v\n",
		cfg.Sim.Loss*100, cfg.Sim.Corruption*100, cfg.Sim.Airtime)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	// the receiver bounds the run; the sender follows it
	txCfg := sc
	txCfg.MaxCycles = 0
	txCtx, stopSender := context.WithCancel(ctx)
	defer stopSender()

	sender := session.NewSender(txCfg, boards[session.RoleSender].Transport,
		session.WithIndicator(boards[session.RoleSender].Indicator),
		session.WithSink(telemetry.Fanout{senderStats, telemetry.LogSink{}}))
	receiver := session.NewReceiver(sc, boards[session.RoleReceiver].Transport,
		session.WithIndicator(boards[session.RoleReceiver].Indicator),
		session.WithSink(obs.Sink()))

	var g errgroup.Group
	g.Go(func() error {
		defer stopSender()
		return receiver.Run(ctx)
	})
	g.Go(func() error {
		return sender.Run(txCtx)
	})
	err = g.Wait()

	ms := medium.Stats()
	fmt.Println()
	fmt.Print(senderStats.String())
	fmt.Print(obs.stats.String())
	fmt.Printf("Channel: %d transmitted, %d delivered, %d dropped, %d corrupted, %d missed\n",
		ms.Transmissions, ms.Delivered, ms.Dropped, ms.Corrupted, ms.Missed)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
