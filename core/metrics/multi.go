package metrics

import "errors"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []StepSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...StepSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordStep forwards the record to all sinks and joins their errors.
func (m *MultiSink) RecordStep(sm StepMetrics) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordStep(sm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordChargingPeriod forwards the event to sinks supporting it.
func (m *MultiSink) RecordChargingPeriod(ev ChargingEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(ChargingRecorder); ok {
			if err := rec.RecordChargingPeriod(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordRun forwards run lifecycle events to sinks supporting them.
func (m *MultiSink) RecordRun(ev RunEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(RunRecorder); ok {
			if err := rec.RecordRun(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
