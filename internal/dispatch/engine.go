// Package dispatch is the orchestrating core of the engine: a priority work
// queue that selects the next call under per-campaign concurrency caps,
// places it through the dialer, and routes the finished call through
// classification, the funnel, retry scheduling and experiment recording.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-dispatch/internal/concurrency"
	"github.com/acme/voice-dispatch/internal/dialer"
	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/experiment"
	"github.com/acme/voice-dispatch/internal/funnel"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/outcome"
	"github.com/acme/voice-dispatch/internal/repository"
	"github.com/acme/voice-dispatch/internal/retry"
	"github.com/acme/voice-dispatch/pkg/logger"
)

// OutcomeEvent is emitted after every finished attempt for external
// consumers (dashboards, CRM sync).
type OutcomeEvent struct {
	LeadID          uuid.UUID  `json:"lead_id"`
	CampaignID      uuid.UUID  `json:"campaign_id"`
	VariantID       uuid.UUID  `json:"variant_id,omitempty"`
	AttemptNumber   int        `json:"attempt_number"`
	Outcome         string     `json:"outcome"`
	DurationSeconds int        `json:"duration_seconds"`
	TerminalNode    string     `json:"terminal_node"`
	Retry           bool       `json:"retry"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// OutcomePublisher pushes outcome events to the outside world.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, event OutcomeEvent) error
}

// Config tunes the engine.
type Config struct {
	Workers            int
	PollInterval       time.Duration
	DefaultDialTimeout time.Duration
}

// Engine is the dispatch queue orchestrator. One engine instance owns one
// queue; tests run several in isolation.
type Engine struct {
	cfg       Config
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	attempts  repository.AttemptStore
	funnels   repository.FunnelRepository
	allocator *experiment.Allocator
	metrics   *metrics.Store
	limiter   concurrency.SlotLimiter
	dialer    dialer.Dialer
	executor  funnel.Executor
	publisher OutcomePublisher // optional
	logger    *logger.Logger

	queue *queue
	now   func() time.Time

	graphMu sync.Mutex
	graphs  map[uuid.UUID]*funnel.Graph
}

// NewEngine wires the dispatch engine.
func NewEngine(
	cfg Config,
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	attempts repository.AttemptStore,
	funnels repository.FunnelRepository,
	allocator *experiment.Allocator,
	store *metrics.Store,
	limiter concurrency.SlotLimiter,
	dial dialer.Dialer,
	executor funnel.Executor,
	publisher OutcomePublisher,
	lg *logger.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.DefaultDialTimeout <= 0 {
		cfg.DefaultDialTimeout = 60 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		campaigns: campaigns,
		leads:     leads,
		attempts:  attempts,
		funnels:   funnels,
		allocator: allocator,
		metrics:   store,
		limiter:   limiter,
		dialer:    dial,
		executor:  executor,
		publisher: publisher,
		logger:    lg,
		queue:     newQueue(),
		now:       func() time.Time { return time.Now().UTC() },
		graphs:    make(map[uuid.UUID]*funnel.Graph),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled. Each worker
// independently pulls one item per iteration and runs it to completion; the
// dial suspends only its worker.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

// EnqueueLead projects a lead into the queue. The lead transitions to
// in_queue; its item competes for dispatch from scheduledAt on.
func (e *Engine) EnqueueLead(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign, scheduledAt time.Time) error {
	if lead.Status.Terminal() {
		return fmt.Errorf("dispatch: lead %s has terminal status %s", lead.ID, lead.Status)
	}

	lead.Status = domain.LeadStatusInQueue
	lead.NextAttemptAt = &scheduledAt
	if err := e.leads.Update(ctx, lead); err != nil {
		return fmt.Errorf("dispatch: update lead: %w", err)
	}

	attemptNumber := lead.AttemptCount + 1
	e.queue.put(&domain.QueueItem{
		LeadID:        lead.ID,
		CampaignID:    campaign.ID,
		Phone:         lead.Phone,
		State:         domain.QueueItemWaiting,
		PriorityScore: priorityScore(campaign.Priority, attemptNumber),
		AttemptNumber: attemptNumber,
		ScheduledAt:   scheduledAt,
	})
	return nil
}

// SyncCampaign enqueues every due lead of the campaign. Called on campaign
// activation and by the lead ingestion path.
func (e *Engine) SyncCampaign(ctx context.Context, campaignID uuid.UUID) error {
	campaign, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	now := e.now()

	fresh, err := e.leads.ListByCampaign(ctx, campaignID, domain.LeadStatusNew, 0)
	if err != nil {
		return err
	}
	for _, lead := range fresh {
		if err := e.EnqueueLead(ctx, lead, campaign, now); err != nil {
			return err
		}
	}

	queued, err := e.leads.DueForDispatch(ctx, campaignID, now, 0)
	if err != nil {
		return err
	}
	for _, lead := range queued {
		if _, ok := e.queue.get(lead.ID); ok {
			continue
		}
		if err := e.EnqueueLead(ctx, lead, campaign, now); err != nil {
			return err
		}
	}
	return nil
}

// ListQueueItems is the read-only query surface over the queue.
func (e *Engine) ListQueueItems(campaignID uuid.UUID, state domain.QueueItemState) []domain.QueueItem {
	return e.queue.snapshot(campaignID, state)
}

// InvalidateFunnel drops the cached compiled graph for a campaign, forcing a
// reload on the next finished call.
func (e *Engine) InvalidateFunnel(campaignID uuid.UUID) {
	e.graphMu.Lock()
	delete(e.graphs, campaignID)
	e.graphMu.Unlock()
}

func (e *Engine) workerLoop(ctx context.Context, worker int) {
	for {
		item, campaign, ok := e.next(ctx)
		if !ok {
			return
		}
		e.process(ctx, worker, item, campaign)
	}
}

// next blocks until an eligible item is selected or ctx ends. Eligibility is
// evaluated at selection time: a paused campaign stops producing selections
// immediately even for items enqueued before the pause.
func (e *Engine) next(ctx context.Context) (*domain.QueueItem, *domain.Campaign, bool) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if item, campaign := e.trySelect(ctx); item != nil {
			return item, campaign, true
		}
		select {
		case <-ctx.Done():
			return nil, nil, false
		case <-ticker.C:
		}
	}
}

func (e *Engine) trySelect(ctx context.Context) (*domain.QueueItem, *domain.Campaign) {
	now := e.now()
	campaignCache := make(map[uuid.UUID]*domain.Campaign)

	for _, item := range e.queue.waitingSorted(now) {
		campaign, ok := campaignCache[item.CampaignID]
		if !ok {
			var err error
			campaign, err = e.campaigns.Get(ctx, item.CampaignID)
			if err != nil {
				e.logger.Warn("dispatch: campaign lookup failed",
					zap.String("campaign_id", item.CampaignID.String()), zap.Error(err))
				continue
			}
			campaignCache[item.CampaignID] = campaign
		}

		if campaign.State != domain.CampaignStateActive {
			continue
		}
		if !withinBusinessHours(now, campaign) {
			continue
		}

		acquired, err := e.limiter.Acquire(ctx, campaign.ID, campaign.MaxConcurrency)
		if err != nil {
			e.logger.Warn("dispatch: slot acquire failed", zap.Error(err))
			continue
		}
		if !acquired {
			continue
		}

		// Claim under the queue lock; another worker may have raced us.
		if !e.claim(item.LeadID) {
			_ = e.limiter.Release(ctx, campaign.ID)
			continue
		}
		return item, campaign
	}
	return nil, nil
}

func (e *Engine) claim(leadID uuid.UUID) bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	item, ok := e.queue.items[leadID]
	if !ok || item.State != domain.QueueItemWaiting {
		return false
	}
	item.State = domain.QueueItemActive
	return true
}

func (e *Engine) process(ctx context.Context, worker int, item *domain.QueueItem, campaign *domain.Campaign) {
	defer func() {
		if err := e.limiter.Release(context.Background(), campaign.ID); err != nil {
			e.logger.Warn("dispatch: slot release failed", zap.Error(err))
		}
	}()

	tracer := otel.Tracer("dispatch.engine")
	sctx, span := tracer.Start(ctx, "dispatch.call", trace.WithAttributes(
		attribute.String("lead.id", item.LeadID.String()),
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.Int("attempt", item.AttemptNumber),
		attribute.Int("worker", worker),
	))
	defer span.End()

	lead, err := e.leads.Get(sctx, item.LeadID)
	if err != nil {
		span.RecordError(err)
		e.fail(item, fmt.Sprintf("lead lookup: %v", err))
		return
	}

	variantID, err := e.allocator.AssignVariant(sctx, campaign.ID)
	if err != nil {
		// A bad split is a configuration error caught at activation; if one
		// slips through the call proceeds unpartitioned rather than stalling.
		span.RecordError(err)
		e.logger.Error("dispatch: variant assignment failed", zap.Error(err))
		variantID = uuid.Nil
	}

	timeout := campaign.DialTimeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultDialTimeout
	}

	startedAt := e.now()
	dialCtx, cancel := context.WithTimeout(sctx, timeout)
	result, dialErr := e.dialer.Place(dialCtx, dialer.Call{
		LeadID:     lead.ID,
		CampaignID: campaign.ID,
		Phone:      lead.Phone,
		ScriptRef:  campaign.ScriptRef,
		VariantID:  variantID,
		Attempt:    item.AttemptNumber,
	})
	cancel()

	var callOutcome domain.Outcome
	switch {
	case dialErr == nil:
		callOutcome = outcome.Classify(result.RawCode)
	case errors.Is(dialErr, context.DeadlineExceeded):
		// A stuck call must not hold the slot forever; the expired deadline
		// is a business no_answer, not a transport failure.
		callOutcome = domain.OutcomeNoAnswer
		result.Duration = timeout
	case ctx.Err() != nil:
		// Engine shutdown mid-dial: put the item back untouched.
		e.requeue(item, item.ScheduledAt, item.AttemptNumber, item.PriorityScore)
		return
	default:
		span.RecordError(dialErr)
		e.metrics.RecordCampaignDelta(sctx, campaign.ID, metrics.CampaignDelta{TransportErrors: 1})
		e.fail(item, dialErr.Error())
		e.logger.Error("dispatch: transport error, item held for operator",
			zap.String("lead_id", lead.ID.String()), zap.Error(dialErr))
		return
	}

	e.complete(sctx, span, item, campaign, lead, variantID, callOutcome, startedAt, result.Duration)
}

// complete runs the outcome pipeline for a finished call. The attempt counter
// lives on the lead and is incremented only here, so attempt numbers are
// strictly increasing and never skipped per lead.
func (e *Engine) complete(
	ctx context.Context,
	span trace.Span,
	item *domain.QueueItem,
	campaign *domain.Campaign,
	lead *domain.Lead,
	variantID uuid.UUID,
	callOutcome domain.Outcome,
	startedAt time.Time,
	duration time.Duration,
) {
	now := e.now()
	lead.AttemptCount++
	span.SetAttributes(attribute.String("outcome", string(callOutcome)))

	decision := retry.Decide(lead, campaign, callOutcome, now)

	switch {
	case callOutcome == domain.OutcomeSuccessConsent:
		lead.Status = domain.LeadStatusDone
		lead.ConsentSMS = true
	case callOutcome == domain.OutcomeSuccessNoConsent:
		lead.Status = domain.LeadStatusDone
	case callOutcome == domain.OutcomeBlacklisted:
		lead.Status = domain.LeadStatusBlacklisted
	case decision.Retry:
		lead.Status = domain.LeadStatusInQueue
		lead.NextAttemptAt = &decision.NextAttemptAt
	case callOutcome.Retryable():
		// Retryable outcome but attempts exhausted.
		lead.Status = domain.LeadStatusExhausted
	default:
		lead.Status = domain.LeadStatusDone
	}
	lead.UpdatedAt = now

	fres := e.runFunnel(ctx, campaign.ID, funnel.Context{
		Outcome:      callOutcome,
		AttemptCount: lead.AttemptCount,
		ConsentSMS:   lead.ConsentSMS,
		LeadStatus:   lead.Status,
		Tags:         lead.Tags,
	}, lead.ID)

	// The blacklist action mutates the lead out of band; re-read its verdict.
	if fres != nil {
		for _, executed := range fres.Executed {
			if executed.Action.Type == domain.ActionBlacklist && executed.Err == nil {
				lead.Status = domain.LeadStatusBlacklisted
			}
		}
	}

	if err := e.leads.Update(ctx, lead); err != nil {
		span.RecordError(err)
		e.logger.Error("dispatch: persist lead", zap.Error(err))
	}

	terminal := ""
	if fres != nil {
		terminal = fres.Terminal
	}
	attempt := domain.CallAttempt{
		ID:              uuid.New(),
		LeadID:          lead.ID,
		CampaignID:      campaign.ID,
		VariantID:       variantID,
		AttemptNumber:   lead.AttemptCount,
		StartedAt:       startedAt,
		Outcome:         callOutcome,
		DurationSeconds: int(duration / time.Second),
		TerminalNode:    terminal,
	}
	if err := e.attempts.Append(ctx, attempt); err != nil {
		span.RecordError(err)
		e.logger.Error("dispatch: append attempt", zap.Error(err))
	}

	delta := metrics.CampaignDelta{TotalCalls: 1}
	if callOutcome.Success() {
		delta.CompletedCalls = 1
	} else if !decision.Retry {
		delta.FailedCalls = 1
	}
	if decision.Retry {
		delta.RetriesScheduled = 1
	}
	e.metrics.RecordCampaignDelta(ctx, campaign.ID, delta)
	e.allocator.RecordOutcome(ctx, variantID, callOutcome, attempt.DurationSeconds)

	if _, err := e.allocator.MaybeAutoStop(ctx, campaign.ID); err != nil {
		span.RecordError(err)
		e.logger.Warn("dispatch: auto-stop evaluation failed", zap.Error(err))
	}

	if e.publisher != nil {
		event := OutcomeEvent{
			LeadID:          lead.ID,
			CampaignID:      campaign.ID,
			VariantID:       variantID,
			AttemptNumber:   lead.AttemptCount,
			Outcome:         string(callOutcome),
			DurationSeconds: attempt.DurationSeconds,
			TerminalNode:    terminal,
			Retry:           decision.Retry,
			OccurredAt:      now,
		}
		if decision.Retry {
			event.NextAttemptAt = &decision.NextAttemptAt
		}
		if err := e.publisher.PublishOutcome(ctx, event); err != nil {
			span.RecordError(err)
			e.logger.Error("dispatch: publish outcome", zap.Error(err))
		}
	}

	if decision.Retry {
		next := lead.AttemptCount + 1
		e.requeue(item, decision.NextAttemptAt, next, priorityScore(campaign.Priority, next))
		return
	}
	e.queue.remove(lead.ID)
}

func (e *Engine) runFunnel(ctx context.Context, campaignID uuid.UUID, fctx funnel.Context, leadID uuid.UUID) *funnel.Result {
	graph, err := e.funnelGraph(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.logger.Error("dispatch: load funnel", zap.Error(err))
		}
		return nil
	}
	res := funnel.NewEngine(graph, e.executor).Run(ctx, fctx, leadID.String())
	return &res
}

func (e *Engine) funnelGraph(ctx context.Context, campaignID uuid.UUID) (*funnel.Graph, error) {
	e.graphMu.Lock()
	if g, ok := e.graphs[campaignID]; ok {
		e.graphMu.Unlock()
		return g, nil
	}
	e.graphMu.Unlock()

	raw, err := e.funnels.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	g, err := funnel.Load(raw)
	if err != nil {
		return nil, err
	}

	e.graphMu.Lock()
	e.graphs[campaignID] = g
	e.graphMu.Unlock()
	return g, nil
}

// requeue returns an item to waiting. Snapshot readers copy items under the
// queue lock, so every field write here must happen under it too.
func (e *Engine) requeue(item *domain.QueueItem, scheduledAt time.Time, attemptNumber, score int) {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	item.State = domain.QueueItemWaiting
	item.ScheduledAt = scheduledAt
	item.AttemptNumber = attemptNumber
	item.PriorityScore = score
}

func (e *Engine) fail(item *domain.QueueItem, reason string) {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	item.State = domain.QueueItemError
	item.LastError = reason
}
