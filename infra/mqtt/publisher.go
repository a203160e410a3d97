package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/evsim/core/simulation"
)

// Envelope wraps every step update published on the broker.
type Envelope struct {
	MessageID string                `json:"message_id"`
	SentAt    time.Time             `json:"sent_at"`
	Update    simulation.StepUpdate `json:"update"`
}

type publisher interface {
	Publish(topic, kind string, retained bool, payload []byte) error
}

// StepPublisher forwards simulation step updates to MQTT topics:
//
//	<prefix>/runs/<run_id>/steps  every step
//	<prefix>/runs/<run_id>/final  once the run has ended (retained)
//	<prefix>/latest               last update of any run (retained)
type StepPublisher struct {
	pub    publisher
	prefix string
	retain bool
}

// NewStepPublisher publishes through c.
func NewStepPublisher(c *Client) *StepPublisher {
	return &StepPublisher{pub: c, prefix: c.cfg.TopicPrefix, retain: c.cfg.RetainSteps}
}

// Publish sends one update.
func (p *StepPublisher) Publish(u simulation.StepUpdate) error {
	payload, err := json.Marshal(Envelope{MessageID: uuid.NewString(), SentAt: time.Now().UTC(), Update: u})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/runs/%s/steps", p.prefix, u.RunID)
	retained := p.retain
	if u.Final {
		topic = fmt.Sprintf("%s/runs/%s/final", p.prefix, u.RunID)
		retained = true
	}
	if err := p.pub.Publish(topic, "step", retained, payload); err != nil {
		return err
	}
	return p.pub.Publish(p.prefix+"/latest", "step", true, payload)
}

// Run publishes updates received on sub until ctx ends or sub is closed.
// Errors are reported to onErr and do not stop the loop.
func (p *StepPublisher) Run(ctx context.Context, sub <-chan simulation.StepUpdate, onErr func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub:
			if !ok {
				return
			}
			if err := p.Publish(u); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
