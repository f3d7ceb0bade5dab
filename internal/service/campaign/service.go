// Package campaign orchestrates campaign lifecycle operations: creation,
// lead loading, funnel and experiment setup, and the state transitions that
// gate dispatch.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/experiment"
	"github.com/acme/voice-dispatch/internal/funnel"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
)

// Dispatcher is the slice of the dispatch engine the service drives: loading
// a campaign's due leads into the queue and dropping stale funnel caches.
type Dispatcher interface {
	SyncCampaign(ctx context.Context, campaignID uuid.UUID) error
	InvalidateFunnel(campaignID uuid.UUID)
	ListQueueItems(campaignID uuid.UUID, state domain.QueueItemState) []domain.QueueItem
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	campaigns          repository.CampaignRepository
	leads              repository.LeadRepository
	experiments        repository.ExperimentRepository
	funnels            repository.FunnelRepository
	allocator          *experiment.Allocator
	store              *metrics.Store
	dispatcher         Dispatcher
	defaultConcurrency int
}

// NewService constructs a campaign service.
func NewService(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	experiments repository.ExperimentRepository,
	funnels repository.FunnelRepository,
	allocator *experiment.Allocator,
	store *metrics.Store,
	dispatcher Dispatcher,
	defaultConcurrency int,
) *Service {
	return &Service{
		campaigns:          campaigns,
		leads:              leads,
		experiments:        experiments,
		funnels:            funnels,
		allocator:          allocator,
		store:              store,
		dispatcher:         dispatcher,
		defaultConcurrency: defaultConcurrency,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name                 string
	Priority             int
	MaxConcurrency       int
	MaxAttempts          int
	RetryIntervalMinutes int
	DialTimeout          time.Duration
	ScriptRef            string
	TimeZone             string
	BusinessHours        []BusinessHourInput
}

// BusinessHourInput expresses a business hour window.
type BusinessHourInput struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// LeadInput expresses one lead to load into a campaign.
type LeadInput struct {
	Phone string
	Tags  []string
}

// Create provisions a new campaign in draft state.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:                   uuid.New(),
		Name:                 input.Name,
		Priority:             input.Priority,
		MaxConcurrency:       s.resolveConcurrency(input.MaxConcurrency),
		MaxAttempts:          input.MaxAttempts,
		RetryIntervalMinutes: input.RetryIntervalMinutes,
		DialTimeout:          input.DialTimeout,
		ScriptRef:            input.ScriptRef,
		TimeZone:             input.TimeZone,
		BusinessHours:        toDomainBusinessHours(input.BusinessHours),
		State:                domain.CampaignStateDraft,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// List returns campaigns after the given cursor.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.campaigns.List(ctx, afterID, limit)
}

// AddLeads loads leads into the campaign. Leads of an active campaign enter
// the dispatch queue immediately.
func (s *Service) AddLeads(ctx context.Context, campaignID uuid.UUID, inputs []LeadInput) ([]*domain.Lead, error) {
	campaign, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	leads := make([]*domain.Lead, 0, len(inputs))
	for _, in := range inputs {
		if in.Phone == "" {
			return nil, fmt.Errorf("%w: lead phone is required", apperrors.ErrValidation)
		}
		leads = append(leads, &domain.Lead{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			Phone:      in.Phone,
			Status:     domain.LeadStatusNew,
			Tags:       in.Tags,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := s.leads.BulkInsert(ctx, leads); err != nil {
		return nil, fmt.Errorf("campaign service: store leads: %w", err)
	}

	if campaign.State == domain.CampaignStateActive {
		if err := s.dispatcher.SyncCampaign(ctx, campaign.ID); err != nil {
			return nil, fmt.Errorf("campaign service: sync queue: %w", err)
		}
	}
	return leads, nil
}

// SetFunnel validates and stores the campaign's funnel graph. The compiled
// form is cached by the dispatcher, so the cache is dropped on replace.
func (s *Service) SetFunnel(ctx context.Context, campaignID uuid.UUID, graph domain.FunnelGraph) error {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return err
	}
	if _, err := funnel.Load(graph); err != nil {
		return err
	}
	if err := s.funnels.Replace(ctx, campaignID, graph); err != nil {
		return fmt.Errorf("campaign service: store funnel: %w", err)
	}
	s.dispatcher.InvalidateFunnel(campaignID)
	return nil
}

// Funnel returns the stored funnel graph for the campaign.
func (s *Service) Funnel(ctx context.Context, campaignID uuid.UUID) (domain.FunnelGraph, error) {
	return s.funnels.Get(ctx, campaignID)
}

// CreateExperiment attaches an A/B experiment to the campaign. The traffic
// split is validated here so a broken allocation never reaches dispatch.
func (s *Service) CreateExperiment(ctx context.Context, exp *domain.Experiment) (*domain.Experiment, error) {
	if _, err := s.campaigns.Get(ctx, exp.CampaignID); err != nil {
		return nil, err
	}
	if err := experiment.ValidateAllocation(exp); err != nil {
		return nil, err
	}

	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	for i := range exp.Variants {
		if exp.Variants[i].ID == uuid.Nil {
			exp.Variants[i].ID = uuid.New()
		}
		exp.Variants[i].ExperimentID = exp.ID
	}
	exp.Status = domain.ExperimentStatusDraft
	exp.CreatedAt = time.Now().UTC()

	if err := s.experiments.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("campaign service: create experiment: %w", err)
	}
	return exp, nil
}

// Experiment returns the campaign's experiment.
func (s *Service) Experiment(ctx context.Context, campaignID uuid.UUID) (*domain.Experiment, error) {
	return s.experiments.GetByCampaign(ctx, campaignID)
}

// ExperimentResults computes the current significance comparison for every
// challenger arm. Returns ErrInsufficientData until every arm reaches the
// minimum sample size.
func (s *Service) ExperimentResults(ctx context.Context, experimentID uuid.UUID) (map[uuid.UUID]domain.SignificanceResult, error) {
	return s.allocator.ComputeSignificance(ctx, experimentID)
}

// Stats returns the campaign-level counters.
func (s *Service) Stats(ctx context.Context, campaignID uuid.UUID) (domain.CampaignStats, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return domain.CampaignStats{}, err
	}
	return s.store.CampaignSnapshot(campaignID), nil
}

// VariantMetrics returns the live counters and derived rates per variant.
func (s *Service) VariantMetrics(ctx context.Context, campaignID uuid.UUID) ([]domain.VariantMetrics, error) {
	exp, err := s.experiments.GetByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VariantMetrics, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		out = append(out, s.store.VariantSnapshot(v.ID))
	}
	return out, nil
}

// Activate moves a campaign from draft or paused into active. Funnel and
// allocation problems surface here, before any call is placed.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}

	switch campaign.State {
	case domain.CampaignStateActive:
		return nil
	case domain.CampaignStateCompleted:
		return fmt.Errorf("%w: cannot activate a completed campaign", apperrors.ErrConflict)
	}

	if graph, err := s.funnels.Get(ctx, id); err == nil {
		if _, err := funnel.Load(graph); err != nil {
			return err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	exp, err := s.experiments.GetByCampaign(ctx, id)
	switch {
	case err == nil:
		if err := experiment.ValidateAllocation(exp); err != nil {
			return err
		}
	case errors.Is(err, repository.ErrNotFound):
		exp = nil
	default:
		return err
	}

	from := campaign.State
	if err := s.campaigns.CompareAndSetState(ctx, id, from, domain.CampaignStateActive); err != nil {
		return err
	}

	now := time.Now().UTC()
	if campaign.StartedAt == nil {
		campaign.State = domain.CampaignStateActive
		campaign.StartedAt = &now
		campaign.UpdatedAt = now
		if err := s.campaigns.Update(ctx, campaign); err != nil {
			return err
		}
	}

	if exp != nil && exp.Status == domain.ExperimentStatusDraft {
		if err := s.experiments.SetStatus(ctx, exp.ID, domain.ExperimentStatusDraft, domain.ExperimentStatusRunning, uuid.Nil); err != nil {
			return fmt.Errorf("campaign service: start experiment: %w", err)
		}
	}

	return s.dispatcher.SyncCampaign(ctx, id)
}

// Pause stops dispatch for the campaign. In-flight calls finish; queued items
// simply stop being selected.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.campaigns.CompareAndSetState(ctx, id, domain.CampaignStateActive, domain.CampaignStatePaused)
}

// Complete ends the campaign permanently.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.State == domain.CampaignStateCompleted {
		return nil
	}
	if err := s.campaigns.CompareAndSetState(ctx, id, campaign.State, domain.CampaignStateCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	campaign.State = domain.CampaignStateCompleted
	campaign.CompletedAt = &now
	campaign.UpdatedAt = now
	return s.campaigns.Update(ctx, campaign)
}

// QueueItems returns the live queue projection for the campaign.
func (s *Service) QueueItems(campaignID uuid.UUID, state domain.QueueItemState) []domain.QueueItem {
	return s.dispatcher.ListQueueItems(campaignID, state)
}

func (s *Service) resolveConcurrency(value int) int {
	if value <= 0 {
		return s.defaultConcurrency
	}
	return value
}

func toDomainBusinessHours(inputs []BusinessHourInput) []domain.BusinessHourWindow {
	windows := make([]domain.BusinessHourWindow, 0, len(inputs))
	for _, in := range inputs {
		windows = append(windows, domain.BusinessHourWindow{
			DayOfWeek: in.DayOfWeek,
			Start:     in.Start,
			End:       in.End,
		})
	}
	return windows
}

func validateCreateInput(input CreateCampaignInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.Priority < 1 || input.Priority > 10 {
		return fmt.Errorf("%w: priority must be between 1 and 10", apperrors.ErrValidation)
	}
	if input.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", apperrors.ErrValidation)
	}
	if input.RetryIntervalMinutes <= 0 {
		return fmt.Errorf("%w: retry interval must be positive", apperrors.ErrValidation)
	}
	if input.TimeZone == "" {
		return fmt.Errorf("%w: time zone is required", apperrors.ErrValidation)
	}
	if _, err := time.LoadLocation(input.TimeZone); err != nil {
		return fmt.Errorf("%w: invalid time zone %s: %v", apperrors.ErrValidation, input.TimeZone, err)
	}
	return nil
}
