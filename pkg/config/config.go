// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the loralink YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/loralink/pkg/session"
)

// Radio holds the PHY and session parameters. Both peers must agree on
// everything but the power and timing fields.
type Radio struct {
	FrequencyHz     uint32        `yaml:"frequency_hz"`
	SpreadingFactor uint8         `yaml:"spreading_factor"`
	BandwidthHz     uint32        `yaml:"bandwidth_hz"`
	CodingRate      string        `yaml:"coding_rate"`
	PayloadLen      uint8         `yaml:"payload_len"`
	TxPowerDBm      int8          `yaml:"tx_power_dbm"`
	Preamble        uint16        `yaml:"preamble"`
	CRC             bool          `yaml:"crc"`
	InvertIQ        bool          `yaml:"invert_iq"`
	RxTimeout       time.Duration `yaml:"rx_timeout"`
	InterCycleDelay time.Duration `yaml:"inter_cycle_delay"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
	IndicatorHold   time.Duration `yaml:"indicator_hold"`
	StartupBlink    time.Duration `yaml:"startup_blink"`
	TxBoost         bool          `yaml:"tx_boost"`
	RxBoost         bool          `yaml:"rx_boost"`
	MaxCycles       uint64        `yaml:"max_cycles"`
}

// Transport selects and addresses the radio.
type Transport struct {
	Kind           string        `yaml:"kind"` // serial, ws or sim
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	Address        uint16        `yaml:"address"`
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	NoSSLVerify    bool          `yaml:"no_ssl_verify"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Sim configures the in-process simulated channel.
type Sim struct {
	Loss       float64 `yaml:"loss"`
	Corruption float64 `yaml:"corruption"`
	RSSI       int16   `yaml:"rssi"`
	SNR        int16   `yaml:"snr"`
	Jitter     int16   `yaml:"jitter"`
	Airtime    bool    `yaml:"airtime"`
	Seed       int64   `yaml:"seed"`
}

// Indicator configures the activity LED.
type Indicator struct {
	GPIOPin string `yaml:"gpio_pin"`
	// ActiveLow drives the pin low to light the LED.
	ActiveLow bool `yaml:"active_low"`
}

// Telemetry configures where events and statistics go.
type Telemetry struct {
	MQTTBroker  string `yaml:"mqtt_broker"`
	MQTTTopic   string `yaml:"mqtt_topic"`
	MetricsAddr string `yaml:"metrics_addr"`
	QueueSize   int    `yaml:"queue_size"`
}

// Config is the whole file.
type Config struct {
	Radio     Radio     `yaml:"radio"`
	Transport Transport `yaml:"transport"`
	Sim       Sim       `yaml:"sim"`
	Indicator Indicator `yaml:"indicator"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	s := session.DefaultConfig()
	return &Config{
		Radio: Radio{
			FrequencyHz:     s.FrequencyHz,
			SpreadingFactor: uint8(s.SpreadingFactor),
			BandwidthHz:     uint32(s.Bandwidth),
			CodingRate:      s.CodingRate.String(),
			PayloadLen:      s.PayloadLen,
			TxPowerDBm:      s.TxPowerDBm,
			Preamble:        s.PreambleSymbols,
			CRC:             s.CRC,
			InvertIQ:        s.InvertIQ,
			RxTimeout:       s.RxTimeout,
			InterCycleDelay: s.InterCycleDelay,
			TxTimeout:       s.TxTimeout,
			IndicatorHold:   s.IndicatorHold,
			StartupBlink:    s.StartupBlink,
		},
		Transport: Transport{
			Kind:           "serial",
			Baud:           115200,
			CommandTimeout: 2 * time.Second,
		},
		Sim: Sim{
			RSSI:   -45,
			SNR:    10,
			Jitter: 3,
		},
		Telemetry: Telemetry{
			MQTTTopic: "loralink",
			QueueSize: 256,
		},
	}
}

// DefaultPath returns the default config file path: ~/.loralink/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".loralink", "config.yaml")
	}
	return filepath.Join(home, ".loralink", "config.yaml")
}

// Load reads the configuration from the given YAML file path. Values
// missing from the file keep their defaults. If the file does not exist,
// it returns Default() with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// Write stores cfg at path, creating the directory.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Session converts the radio section into a session configuration.
func (c *Config) Session() (session.Config, error) {
	r := c.Radio
	cr, err := session.ParseCodingRate(r.CodingRate)
	if err != nil {
		return session.Config{}, fmt.Errorf("%w: %v", session.ErrInvalidConfig, err)
	}

	s := session.Config{
		FrequencyHz:     r.FrequencyHz,
		SpreadingFactor: session.SpreadingFactor(r.SpreadingFactor),
		Bandwidth:       session.Bandwidth(r.BandwidthHz),
		CodingRate:      cr,
		PayloadLen:      r.PayloadLen,
		TxPowerDBm:      r.TxPowerDBm,
		PreambleSymbols: r.Preamble,
		CRC:             r.CRC,
		InvertIQ:        r.InvertIQ,
		RxTimeout:       r.RxTimeout,
		InterCycleDelay: r.InterCycleDelay,
		TxTimeout:       r.TxTimeout,
		IndicatorHold:   r.IndicatorHold,
		StartupBlink:    r.StartupBlink,
		TxBoost:         r.TxBoost,
		RxBoost:         r.RxBoost,
		MaxCycles:       r.MaxCycles,
	}
	if err := s.Validate(); err != nil {
		return session.Config{}, err
	}
	return s, nil
}
