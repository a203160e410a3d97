package metrics

import "github.com/kilianp07/evsim/core/factory"

var sinkRegistry = factory.NewRegistry[StepSink]()

// RegisterStepSink adds a metrics sink factory identified by name.
func RegisterStepSink(name string, f factory.Factory[StepSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewStepSink creates a StepSink from the provided configuration.
func NewStepSink(cfgs []factory.ModuleConfig) (StepSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return sinkRegistry.Create(cfgs[0])
	}
	sinks := make([]StepSink, len(cfgs))
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}
