package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/experiment"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository/memory"
	apperrors "github.com/acme/voice-dispatch/pkg/errors"
	"github.com/acme/voice-dispatch/pkg/logger"
)

type stubDispatcher struct {
	synced      []uuid.UUID
	invalidated []uuid.UUID
}

func (d *stubDispatcher) SyncCampaign(_ context.Context, campaignID uuid.UUID) error {
	d.synced = append(d.synced, campaignID)
	return nil
}

func (d *stubDispatcher) InvalidateFunnel(campaignID uuid.UUID) {
	d.invalidated = append(d.invalidated, campaignID)
}

func (d *stubDispatcher) ListQueueItems(uuid.UUID, domain.QueueItemState) []domain.QueueItem {
	return nil
}

func newService(t *testing.T) (*Service, *stubDispatcher, *memory.CampaignRepository, *memory.ExperimentRepository) {
	t.Helper()
	campaigns := memory.NewCampaignRepository()
	experiments := memory.NewExperimentRepository()
	store := metrics.NewStore(nil)
	allocator := experiment.NewAllocator(experiments, store, logger.NewNop())
	dispatcher := &stubDispatcher{}
	svc := NewService(
		campaigns, memory.NewLeadRepository(), experiments, memory.NewFunnelRepository(),
		allocator, store, dispatcher, 10,
	)
	return svc, dispatcher, campaigns, experiments
}

func validInput() CreateCampaignInput {
	return CreateCampaignInput{
		Name:                 "spring promo",
		Priority:             5,
		MaxAttempts:          3,
		RetryIntervalMinutes: 30,
		TimeZone:             "UTC",
	}
}

func TestValidateCreateInputFailures(t *testing.T) {
	cases := []CreateCampaignInput{
		{Name: "", Priority: 5, MaxAttempts: 3, RetryIntervalMinutes: 30, TimeZone: "UTC"},
		{Name: "x", Priority: 0, MaxAttempts: 3, RetryIntervalMinutes: 30, TimeZone: "UTC"},
		{Name: "x", Priority: 11, MaxAttempts: 3, RetryIntervalMinutes: 30, TimeZone: "UTC"},
		{Name: "x", Priority: 5, MaxAttempts: 0, RetryIntervalMinutes: 30, TimeZone: "UTC"},
		{Name: "x", Priority: 5, MaxAttempts: 3, RetryIntervalMinutes: 0, TimeZone: "UTC"},
		{Name: "x", Priority: 5, MaxAttempts: 3, RetryIntervalMinutes: 30, TimeZone: ""},
		{Name: "x", Priority: 5, MaxAttempts: 3, RetryIntervalMinutes: 30, TimeZone: "invalid"},
	}

	for _, tc := range cases {
		if err := validateCreateInput(tc); err == nil {
			t.Errorf("expected validation error for input %+v", tc)
		}
	}
}

func TestCreateStartsInDraft(t *testing.T) {
	svc, _, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.State != domain.CampaignStateDraft {
		t.Errorf("new campaign state = %s, want draft", c.State)
	}
	if c.MaxConcurrency != 10 {
		t.Errorf("unset concurrency should fall back to the default, got %d", c.MaxConcurrency)
	}
}

func TestActivateSyncsQueue(t *testing.T) {
	svc, dispatcher, campaigns, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	got, _ := campaigns.Get(context.Background(), c.ID)
	if got.State != domain.CampaignStateActive {
		t.Errorf("state = %s, want active", got.State)
	}
	if got.StartedAt == nil {
		t.Errorf("activation must stamp startedAt")
	}
	if len(dispatcher.synced) != 1 || dispatcher.synced[0] != c.ID {
		t.Errorf("activation must sync the dispatch queue")
	}
}

func TestActivateRejectsBadAllocation(t *testing.T) {
	svc, _, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Bypass CreateExperiment validation by writing the repo directly.
	exp := &domain.Experiment{
		ID:         uuid.New(),
		CampaignID: c.ID,
		Variants: []domain.Variant{
			{ID: uuid.New(), Name: "control", IsControl: true, TrafficAllocationPercent: 50},
			{ID: uuid.New(), Name: "challenger", TrafficAllocationPercent: 40},
		},
		ConfidenceLevel: 95,
		Status:          domain.ExperimentStatusDraft,
	}
	if err := svc.experiments.Create(context.Background(), exp); err != nil {
		t.Fatalf("seed experiment: %v", err)
	}

	err = svc.Activate(context.Background(), c.ID)
	if !errors.Is(err, apperrors.ErrInvalidAllocation) {
		t.Fatalf("expected ErrInvalidAllocation, got %v", err)
	}
}

func TestActivateStartsDraftExperiment(t *testing.T) {
	svc, _, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	exp, err := svc.CreateExperiment(context.Background(), &domain.Experiment{
		CampaignID: c.ID,
		Variants: []domain.Variant{
			{Name: "control", IsControl: true, TrafficAllocationPercent: 50},
			{Name: "challenger", TrafficAllocationPercent: 50},
		},
		ConfidenceLevel: 95,
		MinSampleSize:   100,
	})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}

	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	got, _ := svc.experiments.Get(context.Background(), exp.ID)
	if got.Status != domain.ExperimentStatusRunning {
		t.Errorf("experiment status = %s, want running", got.Status)
	}
}

func TestActivateCompletedCampaignFails(t *testing.T) {
	svc, _, campaigns, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c.State = domain.CampaignStateCompleted
	if err := campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := svc.Activate(context.Background(), c.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestPauseRequiresActiveState(t *testing.T) {
	svc, _, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Pause(context.Background(), c.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("pausing a draft campaign should conflict, got %v", err)
	}

	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.Pause(context.Background(), c.ID); err != nil {
		t.Errorf("pause after activate: %v", err)
	}
}

func TestSetFunnelRejectsInvalidGraph(t *testing.T) {
	svc, dispatcher, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bad := domain.FunnelGraph{Nodes: []domain.FunnelNode{
		{ID: "start", Kind: domain.FunnelNodeStart, Next: "missing"},
	}}
	if err := svc.SetFunnel(context.Background(), c.ID, bad); !errors.Is(err, apperrors.ErrInvalidFunnelGraph) {
		t.Fatalf("expected ErrInvalidFunnelGraph, got %v", err)
	}

	good := domain.FunnelGraph{Nodes: []domain.FunnelNode{
		{ID: "start", Kind: domain.FunnelNodeStart, Next: "finish"},
		{ID: "finish", Kind: domain.FunnelNodeEnd},
	}}
	if err := svc.SetFunnel(context.Background(), c.ID, good); err != nil {
		t.Fatalf("valid funnel rejected: %v", err)
	}
	if len(dispatcher.invalidated) != 1 {
		t.Errorf("funnel replace must drop the dispatcher cache")
	}
}

func TestAddLeadsSyncsActiveCampaign(t *testing.T) {
	svc, dispatcher, _, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.AddLeads(context.Background(), c.ID, []LeadInput{{Phone: "+15550001"}}); err != nil {
		t.Fatalf("add leads: %v", err)
	}
	if len(dispatcher.synced) != 0 {
		t.Errorf("draft campaign must not sync the queue")
	}

	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.AddLeads(context.Background(), c.ID, []LeadInput{{Phone: "+15550002"}}); err != nil {
		t.Fatalf("add leads: %v", err)
	}
	if len(dispatcher.synced) != 2 {
		t.Errorf("active campaign must sync on new leads, synced %d times", len(dispatcher.synced))
	}
}

func TestCompleteStampsTimestamp(t *testing.T) {
	svc, _, campaigns, _ := newService(t)
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Activate(context.Background(), c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := svc.Complete(context.Background(), c.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := campaigns.Get(context.Background(), c.ID)
	if got.State != domain.CampaignStateCompleted || got.CompletedAt == nil {
		t.Errorf("completed campaign must carry its completion time, got %+v", got)
	}

	// Completing twice is idempotent.
	if err := svc.Complete(context.Background(), c.ID); err != nil {
		t.Errorf("second complete: %v", err)
	}
}
