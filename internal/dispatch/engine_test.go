package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/concurrency"
	"github.com/acme/voice-dispatch/internal/dialer"
	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/experiment"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository/memory"
	"github.com/acme/voice-dispatch/pkg/logger"
)

// scriptedDialer returns a pre-programmed result per phone number.
type scriptedDialer struct {
	mu    sync.Mutex
	codes map[string]string
	errs  map[string]error
	hang  map[string]bool
	calls []dialer.Call
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{
		codes: make(map[string]string),
		errs:  make(map[string]error),
		hang:  make(map[string]bool),
	}
}

func (d *scriptedDialer) Place(ctx context.Context, call dialer.Call) (dialer.Result, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	code, err, hang := d.codes[call.Phone], d.errs[call.Phone], d.hang[call.Phone]
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return dialer.Result{}, ctx.Err()
	}
	if err != nil {
		return dialer.Result{}, err
	}
	return dialer.Result{RawCode: code, Duration: 5 * time.Second}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []OutcomeEvent
}

func (p *capturePublisher) PublishOutcome(_ context.Context, event OutcomeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []domain.FunnelAction
}

func (r *recordingExecutor) Execute(_ context.Context, action domain.FunnelAction, _ string) error {
	r.mu.Lock()
	r.executed = append(r.executed, action)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	engine    *Engine
	campaigns *memory.CampaignRepository
	leads     *memory.LeadRepository
	attempts  *memory.AttemptStore
	funnels   *memory.FunnelRepository
	store     *metrics.Store
	limiter   *concurrency.LocalLimiter
	dialer    *scriptedDialer
	publisher *capturePublisher
	executor  *recordingExecutor
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		campaigns: memory.NewCampaignRepository(),
		leads:     memory.NewLeadRepository(),
		attempts:  memory.NewAttemptStore(),
		funnels:   memory.NewFunnelRepository(),
		store:     metrics.NewStore(nil),
		limiter:   concurrency.NewLocalLimiter(),
		dialer:    newScriptedDialer(),
		publisher: &capturePublisher{},
		executor:  &recordingExecutor{},
		now:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	lg := logger.NewNop()
	allocator := experiment.NewAllocator(memory.NewExperimentRepository(), f.store, lg)
	f.engine = NewEngine(
		Config{Workers: 1, PollInterval: 5 * time.Millisecond},
		f.campaigns, f.leads, f.attempts, f.funnels,
		allocator, f.store, f.limiter, f.dialer, f.executor, f.publisher, lg,
	)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedCampaign(t *testing.T, priority int, state domain.CampaignState) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		ID:                   uuid.New(),
		Name:                 "fixture",
		Priority:             priority,
		MaxConcurrency:       5,
		MaxAttempts:          3,
		RetryIntervalMinutes: 30,
		DialTimeout:          5 * time.Second,
		TimeZone:             "UTC",
		State:                state,
	}
	if err := f.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func (f *fixture) seedLead(t *testing.T, c *domain.Campaign, phone string) *domain.Lead {
	t.Helper()
	lead := &domain.Lead{
		ID:         uuid.New(),
		CampaignID: c.ID,
		Phone:      phone,
		Status:     domain.LeadStatusNew,
	}
	if err := f.leads.BulkInsert(context.Background(), []*domain.Lead{lead}); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	if err := f.engine.EnqueueLead(context.Background(), lead, c, f.now); err != nil {
		t.Fatalf("enqueue lead: %v", err)
	}
	return lead
}

// selectOne runs one selection pass and fails the test if nothing is picked.
func (f *fixture) selectOne(t *testing.T) (*domain.QueueItem, *domain.Campaign) {
	t.Helper()
	item, campaign := f.engine.trySelect(context.Background())
	if item == nil {
		t.Fatalf("expected a selectable item")
	}
	return item, campaign
}

func TestSelectionOrdersByCampaignPriority(t *testing.T) {
	f := newFixture(t)
	urgent := f.seedCampaign(t, 9, domain.CampaignStateActive)
	relaxed := f.seedCampaign(t, 3, domain.CampaignStateActive)
	relaxedLead := f.seedLead(t, relaxed, "+15550001")
	urgentLead := f.seedLead(t, urgent, "+15550002")

	item, _ := f.selectOne(t)
	if item.LeadID != urgentLead.ID {
		t.Fatalf("expected the high-priority campaign lead first, got %s", item.LeadID)
	}
	item, _ = f.selectOne(t)
	if item.LeadID != relaxedLead.ID {
		t.Fatalf("expected the low-priority lead second, got %s", item.LeadID)
	}
}

func TestSelectionSkipsPausedCampaign(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	f.seedLead(t, c, "+15550001")

	c.State = domain.CampaignStatePaused
	if err := f.campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("pause campaign: %v", err)
	}

	if item, _ := f.engine.trySelect(context.Background()); item != nil {
		t.Errorf("paused campaign must not dispatch, selected lead %s", item.LeadID)
	}
}

func TestSelectionHonorsConcurrencyCap(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	c.MaxConcurrency = 1
	if err := f.campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("update campaign: %v", err)
	}
	f.seedLead(t, c, "+15550001")
	f.seedLead(t, c, "+15550002")

	first, campaign := f.selectOne(t)
	if item, _ := f.engine.trySelect(context.Background()); item != nil {
		t.Fatalf("cap of 1 must block a second selection")
	}

	f.dialer.codes[first.Phone] = "answered"
	f.engine.process(context.Background(), 0, first, campaign)

	if item, _ := f.engine.trySelect(context.Background()); item == nil {
		t.Errorf("slot should be free again after the first call finished")
	}
}

func TestSelectionRespectsBusinessHours(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	// Fixture clock is Monday 12:00 UTC; only allow Sunday.
	c.BusinessHours = []domain.BusinessHourWindow{
		{DayOfWeek: time.Sunday, Start: hm(9, 0), End: hm(17, 0)},
	}
	if err := f.campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("update campaign: %v", err)
	}
	f.seedLead(t, c, "+15550001")

	if item, _ := f.engine.trySelect(context.Background()); item != nil {
		t.Errorf("outside business hours the campaign must not dispatch")
	}
}

func TestTransportErrorDoesNotConsumeAttempt(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.errs[lead.Phone] = errors.New("sip bridge unreachable")

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	if item.State != domain.QueueItemError {
		t.Errorf("item state = %s, want error", item.State)
	}
	if item.LastError == "" {
		t.Errorf("item must carry the transport error for operators")
	}

	got, err := f.leads.Get(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if got.AttemptCount != 0 {
		t.Errorf("transport failure must not consume an attempt, count = %d", got.AttemptCount)
	}

	attempts, _ := f.attempts.ListByLead(context.Background(), lead.ID, 0)
	if len(attempts) != 0 {
		t.Errorf("no attempt record expected, got %d", len(attempts))
	}
	if stats := f.store.CampaignSnapshot(c.ID); stats.TransportErrors != 1 {
		t.Errorf("transport errors = %d, want 1", stats.TransportErrors)
	}
	if f.limiter.Active(c.ID) != 0 {
		t.Errorf("slot must be released after a transport failure")
	}
}

func TestDialDeadlineClassifiesAsNoAnswer(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	c.DialTimeout = 20 * time.Millisecond
	if err := f.campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("update campaign: %v", err)
	}
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.hang[lead.Phone] = true

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	attempts, _ := f.attempts.ListByLead(context.Background(), lead.ID, 0)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Outcome != domain.OutcomeNoAnswer {
		t.Errorf("deadline outcome = %s, want no_answer", attempts[0].Outcome)
	}
	if item.State != domain.QueueItemWaiting {
		t.Errorf("no_answer is retryable, item should be rescheduled, state = %s", item.State)
	}
}

func TestSuccessConsentPipeline(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.codes[lead.Phone] = "answered_consent"

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	got, _ := f.leads.Get(context.Background(), lead.ID)
	if got.Status != domain.LeadStatusDone {
		t.Errorf("lead status = %s, want done", got.Status)
	}
	if !got.ConsentSMS {
		t.Errorf("success_consent must flip the SMS consent flag")
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}

	attempts, _ := f.attempts.ListByLead(context.Background(), lead.ID, 0)
	if len(attempts) != 1 || attempts[0].Outcome != domain.OutcomeSuccessConsent {
		t.Fatalf("expected one success_consent attempt, got %+v", attempts)
	}

	if stats := f.store.CampaignSnapshot(c.ID); stats.CompletedCalls != 1 || stats.TotalCalls != 1 {
		t.Errorf("campaign stats = %+v, want one completed of one total", stats)
	}
	if _, ok := f.engine.queue.get(lead.ID); ok {
		t.Errorf("finished lead must leave the queue")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Outcome != string(domain.OutcomeSuccessConsent) {
		t.Errorf("expected one published success_consent event, got %+v", f.publisher.events)
	}
}

func TestRetryReschedulesWithLinearBackoff(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.codes[lead.Phone] = "no_answer"

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	got, _ := f.leads.Get(context.Background(), lead.ID)
	if got.Status != domain.LeadStatusInQueue {
		t.Fatalf("lead status = %s, want in_queue", got.Status)
	}
	wantNext := f.now.Add(30 * time.Minute) // interval * attemptCount(1)
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next attempt = %v, want %v", got.NextAttemptAt, wantNext)
	}
	if item.State != domain.QueueItemWaiting || !item.ScheduledAt.Equal(wantNext) {
		t.Errorf("item should wait until %v, got state=%s scheduled=%v", wantNext, item.State, item.ScheduledAt)
	}
	if item.AttemptNumber != 2 {
		t.Errorf("requeued attempt number = %d, want 2", item.AttemptNumber)
	}
	if item.PriorityScore != priorityScore(c.Priority, 2) {
		t.Errorf("score must be recomputed for the next attempt")
	}
	if stats := f.store.CampaignSnapshot(c.ID); stats.RetriesScheduled != 1 {
		t.Errorf("retries scheduled = %d, want 1", stats.RetriesScheduled)
	}
}

func TestQueueSnapshotSafeDuringRetryRequeue(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.codes[lead.Phone] = "no_answer"

	// Hammer the read surface while the retry path rewrites the item's
	// attempt number and score.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					f.engine.ListQueueItems(uuid.Nil, "")
				}
			}
		}()
	}

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)
	close(done)
	wg.Wait()

	items := f.engine.ListQueueItems(c.ID, domain.QueueItemWaiting)
	if len(items) != 1 {
		t.Fatalf("expected the retried item back in waiting, got %d items", len(items))
	}
	if items[0].AttemptNumber != 2 || items[0].PriorityScore != priorityScore(c.Priority, 2) {
		t.Errorf("snapshot must observe the rescheduled attempt, got %+v", items[0])
	}
}

func TestLeadExhaustsAtMaxAttempts(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	lead.AttemptCount = 2 // one attempt left of 3
	if err := f.leads.Update(context.Background(), lead); err != nil {
		t.Fatalf("update lead: %v", err)
	}
	f.dialer.codes[lead.Phone] = "busy"

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	got, _ := f.leads.Get(context.Background(), lead.ID)
	if got.Status != domain.LeadStatusExhausted {
		t.Errorf("lead status = %s, want exhausted", got.Status)
	}
	if _, ok := f.engine.queue.get(lead.ID); ok {
		t.Errorf("exhausted lead must leave the queue")
	}
	if stats := f.store.CampaignSnapshot(c.ID); stats.FailedCalls != 1 {
		t.Errorf("failed calls = %d, want 1", stats.FailedCalls)
	}
}

func TestRefusalIsTerminalWithoutRetry(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.codes[lead.Phone] = "refused"

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	got, _ := f.leads.Get(context.Background(), lead.ID)
	if got.Status != domain.LeadStatusDone {
		t.Errorf("refusal lead status = %s, want done", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("refusal consumes exactly one attempt, count = %d", got.AttemptCount)
	}
	if _, ok := f.engine.queue.get(lead.ID); ok {
		t.Errorf("refused lead must never be retried")
	}
}

func TestFunnelRunsAfterCall(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := f.seedLead(t, c, "+15550001")
	f.dialer.codes[lead.Phone] = "answered_consent"

	graph := domain.FunnelGraph{Nodes: []domain.FunnelNode{
		{ID: "start", Kind: domain.FunnelNodeStart, Next: "check"},
		{ID: "check", Kind: domain.FunnelNodeCondition, Branches: []domain.FunnelBranch{
			{Field: domain.FieldOutcome, Operator: domain.OpEquals, Value: "success_consent", NextNodeID: "welcome"},
		}, Fallback: "finish"},
		{ID: "welcome", Kind: domain.FunnelNodeAction, Actions: []domain.FunnelAction{
			{Type: domain.ActionSMS, Config: map[string]string{"template": "welcome"}},
		}, Next: "finish"},
		{ID: "finish", Kind: domain.FunnelNodeEnd},
	}}
	if err := f.funnels.Replace(context.Background(), c.ID, graph); err != nil {
		t.Fatalf("store funnel: %v", err)
	}

	item, campaign := f.selectOne(t)
	f.engine.process(context.Background(), 0, item, campaign)

	if len(f.executor.executed) != 1 || f.executor.executed[0].Type != domain.ActionSMS {
		t.Fatalf("expected the welcome SMS action, got %+v", f.executor.executed)
	}
	attempts, _ := f.attempts.ListByLead(context.Background(), lead.ID, 0)
	if len(attempts) != 1 || attempts[0].TerminalNode != "finish" {
		t.Errorf("attempt should record terminal node finish, got %+v", attempts)
	}
}

func TestEnqueueLeadRejectsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, 5, domain.CampaignStateActive)
	lead := &domain.Lead{ID: uuid.New(), CampaignID: c.ID, Phone: "+15550001", Status: domain.LeadStatusBlacklisted}

	if err := f.engine.EnqueueLead(context.Background(), lead, c, f.now); err == nil {
		t.Errorf("blacklisted lead must not enter the queue")
	}
}

func TestListQueueItemsFiltersByCampaignAndState(t *testing.T) {
	f := newFixture(t)
	a := f.seedCampaign(t, 5, domain.CampaignStateActive)
	b := f.seedCampaign(t, 5, domain.CampaignStateActive)
	f.seedLead(t, a, "+15550001")
	f.seedLead(t, b, "+15550002")

	if got := len(f.engine.ListQueueItems(uuid.Nil, "")); got != 2 {
		t.Errorf("all items: got %d, want 2", got)
	}
	if got := len(f.engine.ListQueueItems(a.ID, domain.QueueItemWaiting)); got != 1 {
		t.Errorf("campaign a waiting: got %d, want 1", got)
	}
}
