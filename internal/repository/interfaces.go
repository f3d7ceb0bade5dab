package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	// CompareAndSetState transitions state only when the current value
	// matches from; returns ErrConflict otherwise. Lifecycle transitions are
	// operator-triggered and serialized through this check-and-set.
	CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.CampaignState) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByState(ctx context.Context, state domain.CampaignState, limit int) ([]*domain.Campaign, error)
}

// LeadRepository manages lead persistence. Leads are never deleted.
type LeadRepository interface {
	BulkInsert(ctx context.Context, leads []*domain.Lead) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	Update(ctx context.Context, lead *domain.Lead) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error)
	// DueForDispatch returns in_queue leads whose nextAttemptAt is unset or
	// not after now.
	DueForDispatch(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.Lead, error)
}

// ExperimentRepository manages experiments and their variants. A campaign
// owns at most one experiment; variants cascade with the experiment.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *domain.Experiment) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Experiment, error)
	GetByCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Experiment, error)
	// SetStatus performs a checked transition; completing an experiment also
	// records the winner when one is locked in.
	SetStatus(ctx context.Context, id uuid.UUID, from, to domain.ExperimentStatus, winner uuid.UUID) error
}

// AttemptStore persists immutable call attempts, append-only.
type AttemptStore interface {
	Append(ctx context.Context, attempt domain.CallAttempt) error
	ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.CallAttempt, error)
}

// FunnelRepository stores campaign funnel graphs in their serialized form.
type FunnelRepository interface {
	Replace(ctx context.Context, campaignID uuid.UUID, graph domain.FunnelGraph) error
	Get(ctx context.Context, campaignID uuid.UUID) (domain.FunnelGraph, error)
}
