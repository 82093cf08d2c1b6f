// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloEvents Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/holoevents/eventstore/internal/config"
)

// EngineStatus holds the status information scraped from a running
// eventstore serve process's observability endpoints.
type EngineStatus struct {
	Addr                string  `json:"addr"`
	Live                bool    `json:"live"`
	Ready               bool    `json:"ready"`
	SubscriptionsActive float64 `json:"subscriptions_active"`
	EventsDelivered     float64 `json:"events_delivered_total"`
	AcksReceived        float64 `json:"acks_received_total"`
	BufferOverflows     float64 `json:"buffer_overflow_terminations_total"`
	Error               string  `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	addr       string
}

// NewStatusCmd creates the status subcommand with all flags configured.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the subscription engine's live health and delivery counters",
		Long: `Show the health, readiness, and delivery counters of a running
"eventstore serve" process by scraping its observability endpoints
(healthz/liveness, healthz/readiness, metrics).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability server address (overrides config/env)")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	addr := cfg.addr
	if addr == "" {
		loaded, err := config.Load(configFile, cmd.Flags())
		if err == nil {
			addr = loaded.ObservabilityAddr
		}
	}

	status := queryEngineStatus(addr)

	var output string
	var err error
	if cfg.jsonOutput {
		output, err = formatStatusJSON(status)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

var httpClient = &http.Client{Timeout: 2 * time.Second}

// queryEngineStatus scrapes the observability server's liveness, readiness,
// and metrics endpoints and summarizes them.
func queryEngineStatus(addr string) EngineStatus {
	status := EngineStatus{Addr: addr}

	if addr == "" {
		status.Error = "observability address not configured"
		return status
	}

	status.Live = probe(addr, "/healthz/liveness")
	status.Ready = probe(addr, "/healthz/readiness")

	families, err := scrapeMetrics(addr)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.SubscriptionsActive = gaugeValue(families, "eventstore_subscriptions_active")
	status.EventsDelivered = counterSum(families, "eventstore_events_delivered_total")
	status.AcksReceived = counterSum(families, "eventstore_acks_received_total")
	status.BufferOverflows = counterSum(families, "eventstore_buffer_overflow_terminations_total")

	return status
}

func probe(addr, path string) bool {
	resp, err := httpClient.Get("http://" + addr + path)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func scrapeMetrics(addr string) (map[string]*dto.MetricFamily, error) {
	resp, err := httpClient.Get("http://" + addr + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("failed to reach metrics endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return families, nil
}

func gaugeValue(families map[string]*dto.MetricFamily, name string) float64 {
	fam, ok := families[name]
	if !ok || len(fam.Metric) == 0 {
		return 0
	}
	if m := fam.Metric[0]; m.Gauge != nil {
		return m.Gauge.GetValue()
	} else if m.Untyped != nil {
		return m.Untyped.GetValue()
	}
	return 0
}

func counterSum(families map[string]*dto.MetricFamily, name string) float64 {
	fam, ok := families[name]
	if !ok {
		return 0
	}
	var sum float64
	for _, m := range fam.Metric {
		if m.Counter != nil {
			sum += m.Counter.GetValue()
		} else if m.Untyped != nil {
			sum += m.Untyped.GetValue()
		}
	}
	return sum
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status EngineStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDR\tLIVE\tREADY\tSUBSCRIPTIONS\tDELIVERED\tACKED\tOVERFLOWS")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-------------\t---------\t-----\t---------")

	if status.Error != "" {
		_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t%s\n", status.Addr, status.Error)
	} else {
		_, _ = fmt.Fprintf(w, "%s\t%v\t%v\t%.0f\t%.0f\t%.0f\t%.0f\n",
			status.Addr, status.Live, status.Ready,
			status.SubscriptionsActive, status.EventsDelivered,
			status.AcksReceived, status.BufferOverflows)
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status EngineStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
