// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// loralink - LoRa point-to-point link tester
//
// Runs the sender or receiver side of a fixed-frame LoRa link test over an
// AT-command modem, a WebSocket bridge or a simulated channel.

package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/loralink/cmd"
)

func main() {
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
