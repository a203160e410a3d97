// Package factory builds pluggable modules, such as the metrics sinks of a
// simulation, from a type name and a map of raw settings.
//
//	sinks := factory.NewRegistry[metrics.StepSink]()
//	_ = sinks.Register("nop", func(map[string]any) (metrics.StepSink, error) {
//	    return metrics.NopSink{}, nil
//	})
//	s, err := sinks.Create(factory.ModuleConfig{Type: "nop"})
package factory
