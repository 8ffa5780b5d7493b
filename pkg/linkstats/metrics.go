// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package linkstats

import (
	"fmt"
	"io"
	"net/http"
)

// WritePrometheus writes s in the Prometheus text exposition format.
func WritePrometheus(w io.Writer, s Snapshot) {
	role := s.Role.String()

	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s{role=%q} %d\n", name, role, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s{role=%q} %g\n", name, role, v)
	}

	counter("loralink_cycles_total", "Transfer cycles completed", s.Cycles)
	counter("loralink_success_total", "Successful transfers", s.Successes)

	fmt.Fprintf(w, "# HELP loralink_malformed_total Frames rejected by validation\n")
	fmt.Fprintf(w, "# TYPE loralink_malformed_total counter\n")
	fmt.Fprintf(w, "loralink_malformed_total{role=%q,reason=\"length_mismatch\"} %d\n", role, s.LengthMismatches)
	fmt.Fprintf(w, "loralink_malformed_total{role=%q,reason=\"content_mismatch\"} %d\n", role, s.ContentMismatches)

	counter("loralink_timeouts_total", "Receive timeouts", s.Timeouts)
	counter("loralink_radio_faults_total", "Transport faults", s.RadioFaults)
	counter("loralink_crc_errors_total", "CRC faults reported by the transport", s.CRCErrors)

	if s.RSSI.Count > 0 {
		gauge("loralink_rssi_dbm_avg", "Average RSSI of valid frames", s.RSSI.Avg())
		gauge("loralink_snr_db_avg", "Average SNR of valid frames", s.SNR.Avg())
	}
	gauge("loralink_last_airtime_seconds", "Duration of the last transfer", s.LastElapsed.Seconds())

	aborted := 0.0
	if s.Aborted {
		aborted = 1
	}
	gauge("loralink_aborted", "1 once the session aborted", aborted)
}

// Handler serves the statistics for scraping.
func (st *Stats) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		WritePrometheus(w, st.Snapshot())
	})
}
