// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the tsplay engine and controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No path or session labels: cardinality must stay bounded.

var (
	// PacketsTotal counts packets handed to the sink.
	PacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsplay_packets_total",
		Help: "Total number of TS packets forwarded to the sink.",
	})

	// DropsTotal counts packet batches the sink refused.
	DropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsplay_drops_total",
		Help: "Total number of packets the sink failed to accept in time.",
	})

	// RecoveriesTotal counts drop policy activations by policy.
	RecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsplay_drop_recoveries_total",
		Help: "Total number of drop recovery activations, by policy.",
	}, []string{"policy"})

	// DiscontinuitiesTotal counts PCR discontinuities handled by the pacer.
	DiscontinuitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tsplay_pcr_discontinuities_total",
		Help: "Total number of stream clock discontinuities.",
	})

	// SessionsTotal counts engine sessions by outcome (opened, not_found, format, eos, halted, closed).
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsplay_sessions_total",
		Help: "Total number of playback sessions, by outcome.",
	}, []string{"outcome"})

	// CommandsTotal counts controller commands by command and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsplay_commands_total",
		Help: "Total number of playback commands, by command and result.",
	}, []string{"command", "result"})

	// Extending is 1 while the open file is still growing.
	Extending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsplay_extending",
		Help: "1 while the current file is being extended by a live capture.",
	})

	// ResumeEntries tracks the resume cache size.
	ResumeEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsplay_resume_entries",
		Help: "Number of entries in the resume cache.",
	})
)

// RecordPackets adds n forwarded packets.
func RecordPackets(n int) { PacketsTotal.Add(float64(n)) }

// RecordDrops adds n dropped packets.
func RecordDrops(n int) { DropsTotal.Add(float64(n)) }

// RecordRecovery records one drop policy activation.
func RecordRecovery(policy string) { RecoveriesTotal.WithLabelValues(policy).Inc() }

// RecordDiscontinuity records one clock discontinuity.
func RecordDiscontinuity() { DiscontinuitiesTotal.Inc() }

// RecordSession records a session outcome.
func RecordSession(outcome string) { SessionsTotal.WithLabelValues(outcome).Inc() }

// RecordCommand records a controller command result ("ok" or an error class).
func RecordCommand(command, result string) { CommandsTotal.WithLabelValues(command, result).Inc() }

// SetExtending publishes the extend flag.
func SetExtending(on bool) {
	if on {
		Extending.Set(1)
		return
	}
	Extending.Set(0)
}

// SetResumeEntries publishes the resume cache size.
func SetResumeEntries(n int) { ResumeEntries.Set(float64(n)) }

// CounterValue returns the current value of c (for testing).
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue returns the current value of g (for testing).
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
