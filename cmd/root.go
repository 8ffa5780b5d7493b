// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/loralink/pkg/config"
	"github.com/Thermoquad/loralink/pkg/session"
)

var (
	configPath string

	// Connection flags
	transportKind string
	portName      string
	baudRate      int
	modemAddress  uint16
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Radio flags
	frequencyHz  uint32
	spreadFactor uint8
	bandwidthHz  uint32
	codingRate   string
	payloadLen   uint8
	txPowerDBm   int8
	preamble     uint16
	rxTimeout    string
	cycleCount   uint64

	// Observability flags
	gpioPin     string
	mqttBroker  string
	metricsAddr string

	// cfg is the merged configuration, set before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loralink",
	Short: "LoRa point-to-point link tester",
	Long: `loralink - Exercise a LoRa point-to-point link with a fixed test frame.

One side runs "send", transmitting a 100-byte frame of 0x00, 0x01, ... on
every cycle. The other runs "receive", validating each frame by exact length
and content and reporting RSSI/SNR for every valid one.

Both sides must use the same frequency, spreading factor, bandwidth, coding
rate and payload length.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]   (REYAX AT-command modem)
  WebSocket: --transport ws --url ws://host/lora [--username user]
  Simulated: --transport sim

Settings are read from --config (default ~/.loralink/config.yaml) and
overridden by any flag given on the command line.

For WebSocket authentication, the password is read from the LORALINK_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// glog registers its flags on the standard FlagSet
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	_ = flag.Set("logtostderr", "true")

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultPath(), "Config file")

	// Connection flags
	pf.StringVarP(&transportKind, "transport", "t", "serial", "Radio transport: serial, ws or sim")
	pf.StringVarP(&portName, "port", "p", "", "Serial port device")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	pf.Uint16Var(&modemAddress, "address", 0, "Modem network address (serial only)")
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Radio flags
	defaults := session.DefaultConfig()
	pf.Uint32Var(&frequencyHz, "frequency", defaults.FrequencyHz, "Carrier frequency in Hz")
	pf.Uint8Var(&spreadFactor, "sf", uint8(defaults.SpreadingFactor), "Spreading factor (5-12)")
	pf.Uint32Var(&bandwidthHz, "bandwidth", uint32(defaults.Bandwidth), "Bandwidth in Hz")
	pf.StringVar(&codingRate, "cr", defaults.CodingRate.String(), "Coding rate (4/5-4/8)")
	pf.Uint8Var(&payloadLen, "length", defaults.PayloadLen, "Test frame length in bytes")
	pf.Int8Var(&txPowerDBm, "power", defaults.TxPowerDBm, "Transmit power in dBm")
	pf.Uint16Var(&preamble, "preamble", defaults.PreambleSymbols, "Preamble length in symbols")
	pf.StringVar(&rxTimeout, "rx-timeout", defaults.RxTimeout.String(), "Receive window per cycle")
	pf.Uint64VarP(&cycleCount, "count", "n", 0, "Stop after this many cycles (0 = run until interrupted)")

	// Observability flags
	pf.StringVar(&gpioPin, "led", "", "GPIO pin driving the activity LED (e.g. GPIO25)")
	pf.StringVar(&mqttBroker, "mqtt", "", "Publish events to this MQTT broker (mqtt://host:1883/prefix)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

// loadConfig reads the config file and applies the flags the user gave.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	t := &loaded.Transport
	set("transport", func() { t.Kind = transportKind })
	set("port", func() { t.Port = portName })
	set("baud", func() { t.Baud = baudRate })
	set("address", func() { t.Address = modemAddress })
	set("url", func() { t.URL = wsURL })
	set("username", func() { t.Username = wsUsername })
	set("no-ssl-verify", func() { t.NoSSLVerify = wsNoSSLVerify })

	r := &loaded.Radio
	set("frequency", func() { r.FrequencyHz = frequencyHz })
	set("sf", func() { r.SpreadingFactor = spreadFactor })
	set("bandwidth", func() { r.BandwidthHz = bandwidthHz })
	set("cr", func() { r.CodingRate = codingRate })
	set("length", func() { r.PayloadLen = payloadLen })
	set("power", func() { r.TxPowerDBm = txPowerDBm })
	set("preamble", func() { r.Preamble = preamble })
	set("count", func() { r.MaxCycles = cycleCount })
	if flags.Changed("rx-timeout") {
		d, err := parseDuration("rx-timeout", rxTimeout)
		if err != nil {
			return err
		}
		r.RxTimeout = d
	}

	set("led", func() { loaded.Indicator.GPIOPin = gpioPin })
	set("mqtt", func() { loaded.Telemetry.MQTTBroker = mqttBroker })
	set("metrics-addr", func() { loaded.Telemetry.MetricsAddr = metricsAddr })

	cfg = loaded
	return nil
}

// sessionConfig validates the merged radio settings.
func sessionConfig() (session.Config, error) {
	sc, err := cfg.Session()
	if err != nil {
		return session.Config{}, fmt.Errorf("configuration: %w", err)
	}
	return sc, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
