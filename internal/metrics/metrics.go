// Package metrics defines the Prometheus collectors exported by f3.
//
// All collectors live in the "f3" namespace and are registered with the default
// registerer, so any process serving /metrics picks them up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "f3"

var (
	// IOUnitsFlushed counts IOUnits written, labeled by kind ("data" or "dict").
	IOUnitsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "iounits_flushed_total",
		Help:      "Number of IOUnits written.",
	}, []string{"kind"})

	// BytesWritten counts bytes written to f3 files.
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "bytes_written_total",
		Help:      "Bytes written to f3 files.",
	})

	// DictUnitsEmitted counts dictionary units written, labeled by scope.
	DictUnitsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "dict_units_emitted_total",
		Help:      "Number of dictionary units written.",
	}, []string{"mode"})

	// FlushDuration observes the time spent encoding and writing one IOUnit.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "flush_duration_seconds",
		Help:      "Time spent encoding and writing one IOUnit.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// UnitDecodes counts encoding units decoded, labeled by backend ("native" or "sandbox").
	UnitDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "unit_decodes_total",
		Help:      "Number of encoding units decoded.",
	}, []string{"backend"})

	// BytesRead counts bytes fetched from sources.
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reader",
		Name:      "bytes_read_total",
		Help:      "Bytes fetched from f3 sources.",
	})

	// SandboxFaults counts sandboxed codec failures, labeled by reason.
	SandboxFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "faults_total",
		Help:      "Number of sandboxed codec faults.",
	}, []string{"reason"})

	// ModulesCompiled counts WebAssembly modules compiled (cache misses).
	ModulesCompiled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "modules_compiled_total",
		Help:      "Number of WebAssembly modules compiled.",
	})
)
