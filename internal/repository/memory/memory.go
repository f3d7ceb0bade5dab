// Package memory provides in-process implementations of the repository
// interfaces. They back isolated engine instances in tests and single-node
// runs without external storage; the postgres/scylla implementations are the
// durable path.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/repository"
)

// CampaignRepository is a mutex-guarded map of campaigns.
type CampaignRepository struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]domain.Campaign
}

// NewCampaignRepository builds an empty repository.
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{campaigns: make(map[uuid.UUID]domain.Campaign)}
}

func (r *CampaignRepository) Create(_ context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaign.ID]; ok {
		return repository.ErrConflict
	}
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *CampaignRepository) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := c
	return &out, nil
}

func (r *CampaignRepository) Update(_ context.Context, campaign *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[campaign.ID]; !ok {
		return repository.ErrNotFound
	}
	r.campaigns[campaign.ID] = *campaign
	return nil
}

func (r *CampaignRepository) CompareAndSetState(_ context.Context, id uuid.UUID, from, to domain.CampaignState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.State != from {
		return repository.ErrConflict
	}
	c.State = to
	c.UpdatedAt = time.Now().UTC()
	r.campaigns[id] = c
	return nil
}

func (r *CampaignRepository) List(_ context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		if afterID != nil && c.ID.String() <= afterID.String() {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CampaignRepository) ListByState(_ context.Context, state domain.CampaignState, limit int) ([]*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Campaign
	for _, c := range r.campaigns {
		if c.State != state {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LeadRepository is a mutex-guarded map of leads.
type LeadRepository struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]domain.Lead
}

// NewLeadRepository builds an empty repository.
func NewLeadRepository() *LeadRepository {
	return &LeadRepository{leads: make(map[uuid.UUID]domain.Lead)}
}

func (r *LeadRepository) BulkInsert(_ context.Context, leads []*domain.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range leads {
		if _, ok := r.leads[l.ID]; ok {
			return repository.ErrConflict
		}
	}
	for _, l := range leads {
		r.leads[l.ID] = *l
	}
	return nil
}

func (r *LeadRepository) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := l
	return &out, nil
}

func (r *LeadRepository) Update(_ context.Context, lead *domain.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[lead.ID]; !ok {
		return repository.ErrNotFound
	}
	r.leads[lead.ID] = *lead
	return nil
}

func (r *LeadRepository) ListByCampaign(_ context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Lead
	for _, l := range r.leads {
		if l.CampaignID != campaignID {
			continue
		}
		if status != "" && l.Status != status {
			continue
		}
		ll := l
		out = append(out, &ll)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LeadRepository) DueForDispatch(_ context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Lead
	for _, l := range r.leads {
		if l.CampaignID != campaignID || l.Status != domain.LeadStatusInQueue {
			continue
		}
		if l.NextAttemptAt != nil && l.NextAttemptAt.After(now) {
			continue
		}
		ll := l
		out = append(out, &ll)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExperimentRepository is a mutex-guarded map of experiments.
type ExperimentRepository struct {
	mu          sync.RWMutex
	experiments map[uuid.UUID]domain.Experiment
	byCampaign  map[uuid.UUID]uuid.UUID
}

// NewExperimentRepository builds an empty repository.
func NewExperimentRepository() *ExperimentRepository {
	return &ExperimentRepository{
		experiments: make(map[uuid.UUID]domain.Experiment),
		byCampaign:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *ExperimentRepository) Create(_ context.Context, exp *domain.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[exp.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.byCampaign[exp.CampaignID]; ok {
		return repository.ErrConflict
	}
	r.experiments[exp.ID] = *exp
	r.byCampaign[exp.CampaignID] = exp.ID
	return nil
}

func (r *ExperimentRepository) Get(_ context.Context, id uuid.UUID) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experiments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := e
	return &out, nil
}

func (r *ExperimentRepository) GetByCampaign(_ context.Context, campaignID uuid.UUID) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCampaign[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e := r.experiments[id]
	return &e, nil
}

func (r *ExperimentRepository) SetStatus(_ context.Context, id uuid.UUID, from, to domain.ExperimentStatus, winner uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experiments[id]
	if !ok {
		return repository.ErrNotFound
	}
	if e.Status != from {
		return repository.ErrConflict
	}
	e.Status = to
	if to == domain.ExperimentStatusRunning && e.StartedAt == nil {
		now := time.Now().UTC()
		e.StartedAt = &now
	}
	if to == domain.ExperimentStatusCompleted {
		e.WinnerVariantID = winner
	}
	r.experiments[id] = e
	return nil
}

// AttemptStore is an append-only in-memory attempt log.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID][]domain.CallAttempt
}

// NewAttemptStore builds an empty store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[uuid.UUID][]domain.CallAttempt)}
}

func (s *AttemptStore) Append(_ context.Context, attempt domain.CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.LeadID] = append(s.attempts[attempt.LeadID], attempt)
	return nil
}

func (s *AttemptStore) ListByLead(_ context.Context, leadID uuid.UUID, limit int) ([]domain.CallAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := s.attempts[leadID]
	out := make([]domain.CallAttempt, len(attempts))
	copy(out, attempts)
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FunnelRepository stores serialized funnel graphs per campaign.
type FunnelRepository struct {
	mu      sync.RWMutex
	funnels map[uuid.UUID]domain.FunnelGraph
}

// NewFunnelRepository builds an empty repository.
func NewFunnelRepository() *FunnelRepository {
	return &FunnelRepository{funnels: make(map[uuid.UUID]domain.FunnelGraph)}
}

func (r *FunnelRepository) Replace(_ context.Context, campaignID uuid.UUID, graph domain.FunnelGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funnels[campaignID] = graph
	return nil
}

func (r *FunnelRepository) Get(_ context.Context, campaignID uuid.UUID) (domain.FunnelGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.funnels[campaignID]
	if !ok {
		return domain.FunnelGraph{}, repository.ErrNotFound
	}
	return g, nil
}
