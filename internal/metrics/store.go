// Package metrics keeps the append-only per-variant and per-campaign counters
// the allocator and the read API consume. Counters are atomic int64s so
// concurrent workers recording against the same variant never lose updates;
// reads within the process always observe prior writes.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

// Persister receives best-effort write-behind deltas for durable storage.
type Persister interface {
	ApplyVariantDelta(ctx context.Context, variantID uuid.UUID, delta VariantDelta) error
	ApplyCampaignDelta(ctx context.Context, campaignID uuid.UUID, delta CampaignDelta) error
}

// VariantDelta captures atomic per-variant counter increments.
type VariantDelta struct {
	Calls                int64
	Conversions          int64
	SMSConsents          int64
	TotalDurationSeconds int64
}

// CampaignDelta captures atomic campaign-level counter increments.
type CampaignDelta struct {
	TotalCalls       int64
	CompletedCalls   int64
	FailedCalls      int64
	RetriesScheduled int64
	TransportErrors  int64
}

type variantCounters struct {
	calls       atomic.Int64
	conversions atomic.Int64
	smsConsents atomic.Int64
	duration    atomic.Int64
}

type campaignCounters struct {
	total      atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
	transport  atomic.Int64
}

// Store is the in-process metrics store.
type Store struct {
	mu        sync.RWMutex
	variants  map[uuid.UUID]*variantCounters
	campaigns map[uuid.UUID]*campaignCounters
	persister Persister // optional
}

// NewStore builds a metrics store. persister may be nil.
func NewStore(persister Persister) *Store {
	return &Store{
		variants:  make(map[uuid.UUID]*variantCounters),
		campaigns: make(map[uuid.UUID]*campaignCounters),
		persister: persister,
	}
}

func (s *Store) variant(id uuid.UUID) *variantCounters {
	s.mu.RLock()
	c, ok := s.variants[id]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.variants[id]; ok {
		return c
	}
	c = &variantCounters{}
	s.variants[id] = c
	return c
}

func (s *Store) campaign(id uuid.UUID) *campaignCounters {
	s.mu.RLock()
	c, ok := s.campaigns[id]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.campaigns[id]; ok {
		return c
	}
	c = &campaignCounters{}
	s.campaigns[id] = c
	return c
}

// RecordVariantOutcome increments the counters for one finished call on the
// given variant.
func (s *Store) RecordVariantOutcome(ctx context.Context, variantID uuid.UUID, o domain.Outcome, durationSeconds int) {
	if variantID == uuid.Nil {
		return
	}
	c := s.variant(variantID)
	c.calls.Add(1)
	c.duration.Add(int64(durationSeconds))

	delta := VariantDelta{Calls: 1, TotalDurationSeconds: int64(durationSeconds)}
	if o.Success() {
		c.conversions.Add(1)
		delta.Conversions = 1
	}
	if o == domain.OutcomeSuccessConsent {
		c.smsConsents.Add(1)
		delta.SMSConsents = 1
	}

	if s.persister != nil {
		_ = s.persister.ApplyVariantDelta(ctx, variantID, delta)
	}
}

// RecordCampaignDelta applies campaign-level increments.
func (s *Store) RecordCampaignDelta(ctx context.Context, campaignID uuid.UUID, delta CampaignDelta) {
	c := s.campaign(campaignID)
	c.total.Add(delta.TotalCalls)
	c.completed.Add(delta.CompletedCalls)
	c.failed.Add(delta.FailedCalls)
	c.retries.Add(delta.RetriesScheduled)
	c.transport.Add(delta.TransportErrors)

	if s.persister != nil {
		_ = s.persister.ApplyCampaignDelta(ctx, campaignID, delta)
	}
}

// VariantSnapshot returns the current counters for one variant.
func (s *Store) VariantSnapshot(variantID uuid.UUID) domain.VariantMetrics {
	c := s.variant(variantID)
	return domain.VariantMetrics{
		VariantID:            variantID,
		Calls:                c.calls.Load(),
		Conversions:          c.conversions.Load(),
		SMSConsents:          c.smsConsents.Load(),
		TotalDurationSeconds: c.duration.Load(),
	}
}

// CampaignSnapshot returns the current campaign-level counters.
func (s *Store) CampaignSnapshot(campaignID uuid.UUID) domain.CampaignStats {
	c := s.campaign(campaignID)
	return domain.CampaignStats{
		TotalCalls:       c.total.Load(),
		CompletedCalls:   c.completed.Load(),
		FailedCalls:      c.failed.Load(),
		RetriesScheduled: c.retries.Load(),
		TransportErrors:  c.transport.Load(),
	}
}

// Seed pre-loads variant counters, used when restoring from durable storage.
func (s *Store) Seed(m domain.VariantMetrics) {
	c := s.variant(m.VariantID)
	c.calls.Store(m.Calls)
	c.conversions.Store(m.Conversions)
	c.smsConsents.Store(m.SMSConsents)
	c.duration.Store(m.TotalDurationSeconds)
}
