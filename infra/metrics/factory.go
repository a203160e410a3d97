package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evsim/core/factory"
	coremetrics "github.com/kilianp07/evsim/core/metrics"
)

// init registers built-in metrics sinks.
func init() {
	_ = coremetrics.RegisterStepSink("nop", func(map[string]any) (coremetrics.StepSink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterStepSink("prometheus", func(conf map[string]any) (coremetrics.StepSink, error) {
		var c coremetrics.Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		s, err := NewPromSinkWithRegistry(c, prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	_ = coremetrics.RegisterStepSink("influx", func(conf map[string]any) (coremetrics.StepSink, error) {
		var c struct {
			URL    string `json:"url"`
			Token  string `json:"token"`
			Org    string `json:"org"`
			Bucket string `json:"bucket"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
	})
}
