// Package experiment implements the A/B allocator: variant assignment under a
// fixed traffic split with optional ramp-up, per-variant outcome recording,
// significance testing against control, and auto-stop with winner lock-in.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository"
	"github.com/acme/voice-dispatch/internal/stats"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
	"github.com/acme/voice-dispatch/pkg/logger"
)

// Allocator assigns variants to outgoing calls and evaluates experiments.
type Allocator struct {
	experiments repository.ExperimentRepository
	metrics     *metrics.Store
	logger      *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand

	now func() time.Time
}

// NewAllocator constructs an allocator.
func NewAllocator(experiments repository.ExperimentRepository, store *metrics.Store, lg *logger.Logger) *Allocator {
	return &Allocator{
		experiments: experiments,
		metrics:     store,
		logger:      lg,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ValidateAllocation checks the configuration invariant the allocator
// enforces: shares sum to exactly 100 and a control arm exists. Run eagerly
// at experiment activation so a bad split never surfaces mid-dispatch.
func ValidateAllocation(exp *domain.Experiment) error {
	if sum := exp.AllocationSum(); sum != 100 {
		return fmt.Errorf("%w: variant shares sum to %d, want 100", apperrors.ErrInvalidAllocation, sum)
	}
	if exp.Control() == nil {
		return fmt.Errorf("%w: no control variant", apperrors.ErrInvalidAllocation)
	}
	return nil
}

// AssignVariant picks a variant for a new call on the campaign. Returns
// uuid.Nil when the campaign runs no experiment, so calls proceed
// unpartitioned. A completed experiment with a locked-in winner assigns the
// winner exclusively.
func (a *Allocator) AssignVariant(ctx context.Context, campaignID uuid.UUID) (uuid.UUID, error) {
	exp, err := a.experiments.GetByCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("allocator: lookup experiment: %w", err)
	}

	switch exp.Status {
	case domain.ExperimentStatusRunning:
	case domain.ExperimentStatusCompleted:
		return exp.WinnerVariantID, nil
	default:
		return uuid.Nil, nil
	}

	if err := ValidateAllocation(exp); err != nil {
		return uuid.Nil, err
	}

	return a.pick(exp), nil
}

// pick draws a variant by weighted random selection. Ramp-up scales each
// challenger share down from startPercent% of its configured split toward the
// full split; the withheld share flows to control.
func (a *Allocator) pick(exp *domain.Experiment) uuid.UUID {
	fraction := 1.0
	if exp.RampUp != nil && exp.StartedAt != nil {
		fraction = exp.RampUp.Fraction(*exp.StartedAt, a.now())
	}

	control := exp.Control()
	weights := make([]float64, len(exp.Variants))
	total := 0.0
	for i, v := range exp.Variants {
		w := float64(v.TrafficAllocationPercent)
		if !v.IsControl {
			w *= fraction
		}
		weights[i] = w
		total += w
	}
	// Whatever the ramp withheld from challengers goes to control.
	for i, v := range exp.Variants {
		if v.IsControl {
			weights[i] += 100 - total
		}
	}

	a.mu.Lock()
	r := a.rng.Float64() * 100
	a.mu.Unlock()

	acc := 0.0
	for i, v := range exp.Variants {
		acc += weights[i]
		if r < acc {
			return v.ID
		}
	}
	return control.ID
}

// RecordOutcome atomically increments the variant counters for one finished
// call. Safe for concurrent use across workers.
func (a *Allocator) RecordOutcome(ctx context.Context, variantID uuid.UUID, o domain.Outcome, durationSeconds int) {
	a.metrics.RecordVariantOutcome(ctx, variantID, o, durationSeconds)
}

// ComputeSignificance runs a two-proportion z-test of every non-control arm
// against control at the experiment confidence level. Declines with
// ErrInsufficientData while any arm is below minSampleSize, guarding against
// early peeking.
func (a *Allocator) ComputeSignificance(ctx context.Context, experimentID uuid.UUID) (map[uuid.UUID]domain.SignificanceResult, error) {
	exp, err := a.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("allocator: lookup experiment: %w", err)
	}
	return a.significance(exp)
}

func (a *Allocator) significance(exp *domain.Experiment) (map[uuid.UUID]domain.SignificanceResult, error) {
	control := exp.Control()
	if control == nil {
		return nil, fmt.Errorf("%w: no control variant", apperrors.ErrInvalidAllocation)
	}

	controlM := a.metrics.VariantSnapshot(control.ID)
	minSample := int64(exp.MinSampleSize)
	if controlM.Calls < minSample {
		return nil, fmt.Errorf("%w: control arm has %d calls, need %d", apperrors.ErrInsufficientData, controlM.Calls, minSample)
	}

	confidence := exp.Confidence()
	alpha := 1 - confidence

	results := make(map[uuid.UUID]domain.SignificanceResult, len(exp.Variants)-1)
	for _, v := range exp.Variants {
		if v.IsControl {
			continue
		}
		m := a.metrics.VariantSnapshot(v.ID)
		if m.Calls < minSample {
			return nil, fmt.Errorf("%w: variant %s has %d calls, need %d", apperrors.ErrInsufficientData, v.ID, m.Calls, minSample)
		}

		cmp := stats.TwoProportionTest(m.Conversions, m.Calls, controlM.Conversions, controlM.Calls)
		lo, hi := stats.WilsonInterval(m.Conversions, m.Calls, confidence)

		results[v.ID] = domain.SignificanceResult{
			VariantID:     v.ID,
			PValue:        cmp.PValue,
			CILower:       lo,
			CIUpper:       hi,
			UpliftPercent: cmp.UpliftPercent,
			IsSignificant: cmp.PValue < alpha,
		}
	}
	return results, nil
}

// MaybeAutoStop evaluates a running experiment and, when auto-stop is enabled
// and an arm is significant, completes the experiment locking in the winner.
// Reports whether the experiment was stopped.
func (a *Allocator) MaybeAutoStop(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	exp, err := a.experiments.GetByCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !exp.AutoStop || exp.Status != domain.ExperimentStatusRunning {
		return false, nil
	}

	results, err := a.significance(exp)
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientData) {
			return false, nil
		}
		return false, err
	}

	anySignificant := false
	for _, r := range results {
		if r.IsSignificant {
			anySignificant = true
			break
		}
	}
	if !anySignificant {
		return false, nil
	}

	winner := a.winner(exp, results)
	if err := a.experiments.SetStatus(ctx, exp.ID, domain.ExperimentStatusRunning, domain.ExperimentStatusCompleted, winner); err != nil {
		// Concurrent stop by another worker is benign.
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	a.logger.Info("experiment auto-stopped",
		zap.String("experiment_id", exp.ID.String()),
		zap.String("winner_variant_id", winner.String()),
	)
	return true, nil
}

// winner is the arm with the highest conversion rate among control and the
// significant challengers. A significantly worse challenger hands the win to
// control.
func (a *Allocator) winner(exp *domain.Experiment, results map[uuid.UUID]domain.SignificanceResult) uuid.UUID {
	control := exp.Control()
	best := control.ID
	bestRate := a.metrics.VariantSnapshot(control.ID).ConversionRate()

	for id, r := range results {
		if !r.IsSignificant {
			continue
		}
		rate := a.metrics.VariantSnapshot(id).ConversionRate()
		if rate > bestRate {
			best = id
			bestRate = rate
		}
	}
	return best
}
