package experiment

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository/memory"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
	"github.com/acme/voice-dispatch/pkg/logger"
)

type fixture struct {
	allocator   *Allocator
	experiments *memory.ExperimentRepository
	store       *metrics.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	experiments := memory.NewExperimentRepository()
	store := metrics.NewStore(nil)
	alloc := NewAllocator(experiments, store, logger.NewNop())
	alloc.rng = rand.New(rand.NewSource(1))
	return &fixture{allocator: alloc, experiments: experiments, store: store}
}

func runningExperiment(campaignID uuid.UUID, controlPct, variantPct int) *domain.Experiment {
	started := time.Now().UTC().Add(-48 * time.Hour)
	return &domain.Experiment{
		ID:         uuid.New(),
		CampaignID: campaignID,
		Variants: []domain.Variant{
			{ID: uuid.New(), Name: "control", TrafficAllocationPercent: controlPct, IsControl: true},
			{ID: uuid.New(), Name: "variant-b", TrafficAllocationPercent: variantPct},
		},
		PrimaryMetric:   "conversion",
		ConfidenceLevel: 95,
		MinSampleSize:   300,
		Status:          domain.ExperimentStatusRunning,
		StartedAt:       &started,
	}
}

func TestAssignVariantNoExperimentReturnsSentinel(t *testing.T) {
	f := newFixture(t)
	id, err := f.allocator.AssignVariant(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != uuid.Nil {
		t.Errorf("expected nil sentinel, got %s", id)
	}
}

func TestAssignVariantRejectsBadAllocation(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 40) // sums to 90
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	_, err := f.allocator.AssignVariant(context.Background(), campaignID)
	if !errors.Is(err, apperrors.ErrInvalidAllocation) {
		t.Fatalf("expected ErrInvalidAllocation, got %v", err)
	}
}

func TestAssignVariantHonorsSplit(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	counts := make(map[uuid.UUID]int)
	for i := 0; i < 10000; i++ {
		id, err := f.allocator.AssignVariant(context.Background(), campaignID)
		if err != nil {
			t.Fatal(err)
		}
		counts[id]++
	}

	for _, v := range exp.Variants {
		share := float64(counts[v.ID]) / 10000
		if share < 0.45 || share > 0.55 {
			t.Errorf("variant %s share = %f, want ~0.50", v.Name, share)
		}
	}
}

func TestAssignVariantRampUpFavorsControlEarly(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	started := time.Now().UTC() // ramp just began
	exp.StartedAt = &started
	exp.RampUp = &domain.RampUp{StartPercent: 10, RampUpDays: 7}
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	counts := make(map[uuid.UUID]int)
	for i := 0; i < 10000; i++ {
		id, err := f.allocator.AssignVariant(context.Background(), campaignID)
		if err != nil {
			t.Fatal(err)
		}
		counts[id]++
	}

	// Challenger runs at 10% of its 50% split: ~5% of traffic.
	challenger := exp.Variants[1]
	share := float64(counts[challenger.ID]) / 10000
	if share < 0.03 || share > 0.08 {
		t.Errorf("ramped challenger share = %f, want ~0.05", share)
	}
}

func TestComputeSignificanceClearWinner(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	control, challenger := exp.Variants[0], exp.Variants[1]
	f.store.Seed(domain.VariantMetrics{VariantID: control.ID, Calls: 500, Conversions: 300})
	f.store.Seed(domain.VariantMetrics{VariantID: challenger.ID, Calls: 500, Conversions: 350})

	results, err := f.allocator.ComputeSignificance(context.Background(), exp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := results[challenger.ID]
	if !ok {
		t.Fatal("missing challenger result")
	}
	if !r.IsSignificant {
		t.Errorf("expected significance, p = %f", r.PValue)
	}
	if r.UpliftPercent < 16 || r.UpliftPercent > 17.5 {
		t.Errorf("uplift = %f, want ~16.7", r.UpliftPercent)
	}
	if r.CILower >= r.CIUpper {
		t.Errorf("degenerate confidence interval [%f, %f]", r.CILower, r.CIUpper)
	}
}

func TestComputeSignificanceInsufficientData(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	exp.MinSampleSize = 1000 // same counts as the winner test, higher bar
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	f.store.Seed(domain.VariantMetrics{VariantID: exp.Variants[0].ID, Calls: 500, Conversions: 300})
	f.store.Seed(domain.VariantMetrics{VariantID: exp.Variants[1].ID, Calls: 500, Conversions: 350})

	_, err := f.allocator.ComputeSignificance(context.Background(), exp.ID)
	if !errors.Is(err, apperrors.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAutoStopLocksInWinner(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	exp.AutoStop = true
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	control, challenger := exp.Variants[0], exp.Variants[1]
	f.store.Seed(domain.VariantMetrics{VariantID: control.ID, Calls: 500, Conversions: 300})
	f.store.Seed(domain.VariantMetrics{VariantID: challenger.ID, Calls: 500, Conversions: 350})

	stopped, err := f.allocator.MaybeAutoStop(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped {
		t.Fatal("expected experiment to auto-stop")
	}

	// All subsequent assignments use the winner exclusively.
	for i := 0; i < 50; i++ {
		id, err := f.allocator.AssignVariant(context.Background(), campaignID)
		if err != nil {
			t.Fatal(err)
		}
		if id != challenger.ID {
			t.Fatalf("assignment %d = %s, want winner %s", i, id, challenger.ID)
		}
	}
}

func TestAutoStopDisabledDoesNothing(t *testing.T) {
	f := newFixture(t)
	campaignID := uuid.New()
	exp := runningExperiment(campaignID, 50, 50)
	if err := f.experiments.Create(context.Background(), exp); err != nil {
		t.Fatal(err)
	}

	f.store.Seed(domain.VariantMetrics{VariantID: exp.Variants[0].ID, Calls: 500, Conversions: 300})
	f.store.Seed(domain.VariantMetrics{VariantID: exp.Variants[1].ID, Calls: 500, Conversions: 350})

	stopped, err := f.allocator.MaybeAutoStop(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stopped {
		t.Fatal("auto-stop disabled but experiment stopped")
	}
}

func TestValidateAllocation(t *testing.T) {
	good := runningExperiment(uuid.New(), 60, 40)
	if err := ValidateAllocation(good); err != nil {
		t.Errorf("valid split rejected: %v", err)
	}

	noControl := runningExperiment(uuid.New(), 50, 50)
	noControl.Variants[0].IsControl = false
	if err := ValidateAllocation(noControl); !errors.Is(err, apperrors.ErrInvalidAllocation) {
		t.Errorf("missing control accepted: %v", err)
	}
}
