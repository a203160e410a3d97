package metrics

// Package metrics defines the per-step simulation metrics and the sinks that
// record them. Sinks like PromSink and InfluxSink are registered by
// infra/metrics and combined with NewMultiSink when more than one is
// configured.
