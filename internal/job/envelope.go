package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the serialized form of a job written to a broker.
type Envelope struct {
	Job        *Job      `json:"job"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// ETA is the earliest time the job should run, set when a countdown applies.
	ETA *time.Time `json:"eta,omitempty"`
}

// NewEnvelope wraps j for transport, stamping the enqueue time.
func NewEnvelope(j *Job, now time.Time) *Envelope {
	env := &Envelope{Job: j, EnqueuedAt: now.UTC()}
	if j.Options.Countdown > 0 {
		eta := env.EnqueuedAt.Add(j.Options.Countdown)
		env.ETA = &eta
	}
	return env
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes and validates an envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode job envelope: %w", err)
	}
	if env.Job == nil {
		return nil, fmt.Errorf("%w: envelope has no job", ErrInvalidJob)
	}
	if err := env.Job.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
