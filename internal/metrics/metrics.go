// Package metrics exposes the core's Prometheus instrumentation: counters
// and histograms for tool calls, hook dispatch latency, and fabric
// invocations. It is wired into the Hook Chain, Tool Execution Pipeline, and
// Distributed Message Fabric rather than owning an HTTP server itself —
// the core stays runnable without an exporter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ToolCallsTotal counts tool invocations by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tool_calls_total",
		Help: "Total number of tool invocations processed by the tool execution pipeline.",
	}, []string{"tool", "outcome"})

	// ToolCallDurationSeconds observes wall-clock duration of the tool
	// invocation step, retries and backoff included.
	ToolCallDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tool_call_duration_seconds",
		Help:    "Duration of tool invocations including retries, backoff and tool_error hooks; permission checks and pre/post-tool hooks are excluded.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	// HookDispatchDurationSeconds observes one Chain.Dispatch call.
	HookDispatchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hook_dispatch_duration_seconds",
		Help:    "Duration of a hook chain dispatch for one event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// FabricInvocationsTotal counts invocations crossing the fabric
	// boundary, both outbound sends and inbound dispatches, by capability
	// and outcome.
	FabricInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_invocations_total",
		Help: "Total number of inbound and outbound invocations handled by the distributed message fabric.",
	}, []string{"capability", "outcome"})
)

// Registry is a dedicated Prometheus registry carrying only this module's
// metrics, so embedding applications can expose it on their own /metrics
// handler without colliding with unrelated collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(ToolCallsTotal, ToolCallDurationSeconds, HookDispatchDurationSeconds, FabricInvocationsTotal)
}
