// Package mock simulates the external collaborators for local runs.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/dialer"
)

// Dialer simulates outbound call behaviour with a configurable outcome
// distribution.
type Dialer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDialer constructs a mock dialer.
func NewDialer(seed int64) *Dialer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Dialer{rng: rand.New(rand.NewSource(seed))}
}

// Place simulates a call attempt. Honors the ctx deadline.
func (d *Dialer) Place(ctx context.Context, _ dialer.Call) (dialer.Result, error) {
	d.mu.Lock()
	wait := time.Duration(1+d.rng.Intn(4)) * time.Second
	roll := d.rng.Float64()
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return dialer.Result{}, ctx.Err()
	case <-time.After(wait):
	}

	var code string
	switch {
	case roll < 0.35:
		code = "answered_consent"
	case roll < 0.55:
		code = "answered"
	case roll < 0.65:
		code = "refused"
	case roll < 0.80:
		code = "no_answer"
	case roll < 0.90:
		code = "busy"
	default:
		code = "voicemail"
	}

	return dialer.Result{RawCode: code, Duration: wait}, nil
}

// SMSGateway acknowledges every send.
type SMSGateway struct{}

// Send pretends to deliver the template.
func (SMSGateway) Send(context.Context, uuid.UUID, string, map[string]string) error {
	return nil
}

// CRMHandoff acknowledges every record.
type CRMHandoff struct{}

// CreateRecord pretends to push the lead downstream.
func (CRMHandoff) CreateRecord(context.Context, uuid.UUID, string, map[string]string) error {
	return nil
}
