// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/loralink/pkg/linkstats"
	"github.com/Thermoquad/loralink/pkg/session"
	"github.com/Thermoquad/loralink/pkg/telemetry"
)

const snapshotInterval = 10 * time.Second

// observer owns everything a session reports to: statistics, the log,
// the metrics endpoint and the MQTT broker.
type observer struct {
	stats   *linkstats.Stats
	sinks   telemetry.Fanout
	closers []func()
}

// startObserver wires the sinks selected by the config. Log output is
// skipped when a TUI owns the terminal.
func startObserver(ctx context.Context, logEvents bool) (*observer, error) {
	o := &observer{stats: linkstats.New()}
	o.sinks = append(o.sinks, o.stats)
	if logEvents {
		o.sinks = append(o.sinks, telemetry.LogSink{})
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		o.serveMetrics(addr)
	}

	if broker := cfg.Telemetry.MQTTBroker; broker != "" {
		if err := o.connectBroker(ctx, broker); err != nil {
			o.Close()
			return nil, err
		}
	}
	return o, nil
}

func (o *observer) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.stats.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("metrics server: %v", err)
		}
	}()
	glog.Infof("serving metrics on http://%s/metrics", addr)

	o.closers = append(o.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}

func (o *observer) connectBroker(ctx context.Context, brokerURL string) error {
	broker, prefix, err := telemetry.DialBroker(brokerURL, 5*time.Second)
	if err != nil {
		return err
	}
	if prefix == "" {
		prefix = cfg.Telemetry.MQTTTopic
	}
	mqttSink := telemetry.NewMQTTSink(broker, prefix, "")
	async := telemetry.NewAsync(mqttSink, cfg.Telemetry.QueueSize)
	o.sinks = append(o.sinks, async)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := mqttSink.PublishSnapshot(o.stats.Snapshot()); err != nil {
					glog.V(1).Infof("telemetry: publish stats: %v", err)
				}
			}
		}
	}()

	o.closers = append(o.closers, func() {
		close(done)
		async.Close()
		if n := async.Dropped(); n > 0 {
			glog.Warningf("telemetry: %d events dropped", n)
		}
		mqttSink.PublishSnapshot(o.stats.Snapshot())
		broker.Close()
	})
	glog.Infof("publishing events to %s", brokerURL)
	return nil
}

// Sink returns the fan-out of every configured sink plus extra.
func (o *observer) Sink(extra ...session.Sink) session.Sink {
	return append(append(telemetry.Fanout{}, o.sinks...), extra...)
}

// Close flushes and stops the sinks in reverse order.
func (o *observer) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}
