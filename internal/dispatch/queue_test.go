package dispatch

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

func TestQueuePutPreservesSeqOnReplace(t *testing.T) {
	q := newQueue()
	leadID := uuid.New()

	q.put(&domain.QueueItem{LeadID: leadID, State: domain.QueueItemWaiting})
	first, _ := q.get(leadID)
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}

	q.put(&domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting})
	q.put(&domain.QueueItem{LeadID: leadID, State: domain.QueueItemWaiting, AttemptNumber: 2})

	replaced, _ := q.get(leadID)
	if replaced.Seq != 1 {
		t.Errorf("replace changed seq: got %d, want 1", replaced.Seq)
	}
	if replaced.AttemptNumber != 2 {
		t.Errorf("replace lost attempt number: got %d", replaced.AttemptNumber)
	}
}

func TestWaitingSortedOrdering(t *testing.T) {
	q := newQueue()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	low := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 299, ScheduledAt: now}
	high := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 899, ScheduledAt: now}
	earlier := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 899, ScheduledAt: now.Add(-time.Hour)}
	future := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 999, ScheduledAt: now.Add(time.Minute)}
	active := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemActive, PriorityScore: 999, ScheduledAt: now}

	for _, item := range []*domain.QueueItem{low, high, earlier, future, active} {
		q.put(item)
	}

	due := q.waitingSorted(now)
	if len(due) != 3 {
		t.Fatalf("expected 3 due items, got %d", len(due))
	}
	if due[0].LeadID != earlier.LeadID {
		t.Errorf("first item should be the earlier-scheduled high-priority one")
	}
	if due[1].LeadID != high.LeadID {
		t.Errorf("second item should be the later high-priority one")
	}
	if due[2].LeadID != low.LeadID {
		t.Errorf("third item should be the low-priority one")
	}
}

func TestWaitingSortedTiesBreakOnSeq(t *testing.T) {
	q := newQueue()
	now := time.Now()

	a := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 500, ScheduledAt: now}
	b := &domain.QueueItem{LeadID: uuid.New(), State: domain.QueueItemWaiting, PriorityScore: 500, ScheduledAt: now}
	q.put(a)
	q.put(b)

	due := q.waitingSorted(now)
	if due[0].LeadID != a.LeadID || due[1].LeadID != b.LeadID {
		t.Errorf("equal score and schedule must preserve insertion order")
	}
}

func TestSnapshotFilters(t *testing.T) {
	q := newQueue()
	campaignA := uuid.New()
	campaignB := uuid.New()

	q.put(&domain.QueueItem{LeadID: uuid.New(), CampaignID: campaignA, State: domain.QueueItemWaiting})
	q.put(&domain.QueueItem{LeadID: uuid.New(), CampaignID: campaignA, State: domain.QueueItemError})
	q.put(&domain.QueueItem{LeadID: uuid.New(), CampaignID: campaignB, State: domain.QueueItemWaiting})

	if got := len(q.snapshot(uuid.Nil, "")); got != 3 {
		t.Errorf("unfiltered snapshot: got %d, want 3", got)
	}
	if got := len(q.snapshot(campaignA, "")); got != 2 {
		t.Errorf("campaign filter: got %d, want 2", got)
	}
	if got := len(q.snapshot(campaignA, domain.QueueItemError)); got != 1 {
		t.Errorf("state filter: got %d, want 1", got)
	}
}

func TestPriorityScore(t *testing.T) {
	if got := priorityScore(9, 1); got != 899 {
		t.Errorf("priorityScore(9,1) = %d, want 899", got)
	}
	if got := priorityScore(9, 3); got != 897 {
		t.Errorf("priorityScore(9,3) = %d, want 897", got)
	}
	if priorityScore(3, 1) >= priorityScore(9, 10) {
		t.Errorf("campaign priority must dominate attempt number")
	}
}
