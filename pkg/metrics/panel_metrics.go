// Panel metrics
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"time"
)

// PanelMetrics groups the metrics the panel records.
type PanelMetrics struct {
	registry *Registry

	FirmwareRequests *Counter
	FirmwareLatency  *Histogram
	Commands         *Counter
	Tools            *Gauge
	WSClients        *Gauge
	RefreshDropped   *Counter
}

// NewPanelMetrics creates and registers the panel metrics on a fresh registry.
func NewPanelMetrics() *PanelMetrics {
	pm := &PanelMetrics{
		registry: NewRegistry(),
		FirmwareRequests: NewCounter("axiscope_firmware_requests_total",
			"Firmware API requests by endpoint and result"),
		FirmwareLatency: NewHistogram("axiscope_firmware_request_seconds",
			"Firmware API request latency in seconds", DefaultBuckets()),
		Commands: NewCounter("axiscope_commands_total",
			"G-code commands sent by kind and result"),
		Tools: NewGauge("axiscope_tools",
			"Number of tools reported by the toolchanger"),
		WSClients: NewGauge("axiscope_ws_clients",
			"Connected live-update clients"),
		RefreshDropped: NewCounter("axiscope_refresh_dropped_total",
			"Tool refreshes discarded because a newer one had started"),
	}
	for _, m := range []Metric{pm.FirmwareRequests, pm.FirmwareLatency, pm.Commands, pm.Tools, pm.WSClients, pm.RefreshDropped} {
		pm.registry.MustRegister(m)
	}
	return pm
}

// Registry returns the registry holding the panel metrics.
func (pm *PanelMetrics) Registry() *Registry {
	return pm.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFirmwareRequest records one firmware request.
func (pm *PanelMetrics) ObserveFirmwareRequest(endpoint string, d time.Duration, err error) {
	pm.FirmwareRequests.Inc(Labels{"endpoint": endpoint, "result": result(err)})
	pm.FirmwareLatency.Observe(Labels{"endpoint": endpoint}, d.Seconds())
}

// RecordCommand records a command of the given kind (calibrate, toolchange, fetch_axis...).
func (pm *PanelMetrics) RecordCommand(kind string, err error) {
	pm.Commands.Inc(Labels{"kind": kind, "result": result(err)})
}

// SetTools records the current tool count.
func (pm *PanelMetrics) SetTools(n int) {
	pm.Tools.Set(nil, float64(n))
}

// Gather renders the panel metrics.
func (pm *PanelMetrics) Gather() string {
	return pm.registry.Gather()
}
