package dispatch

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

// queue holds every queue item the engine knows about, keyed by lead.
// Completed items are dropped; error items are retained for operator
// inspection on the read surface.
type queue struct {
	mu    sync.Mutex
	items map[uuid.UUID]*domain.QueueItem
	seq   uint64
}

func newQueue() *queue {
	return &queue{items: make(map[uuid.UUID]*domain.QueueItem)}
}

// put inserts or replaces the item for a lead, stamping insertion order on
// first sight.
func (q *queue) put(item *domain.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.items[item.LeadID]; ok {
		item.Seq = existing.Seq
	} else {
		q.seq++
		item.Seq = q.seq
	}
	q.items[item.LeadID] = item
}

func (q *queue) get(leadID uuid.UUID) (*domain.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[leadID]
	return item, ok
}

func (q *queue) remove(leadID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, leadID)
}

// waitingSorted returns the waiting items due at now, in selection order:
// highest priority score first, then earliest scheduledAt, then insertion
// order. The ordering is fully deterministic so dispatch is reproducible.
func (q *queue) waitingSorted(now time.Time) []*domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*domain.QueueItem
	for _, item := range q.items {
		if item.State != domain.QueueItemWaiting {
			continue
		}
		if item.ScheduledAt.After(now) {
			continue
		}
		due = append(due, item)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.Seq < b.Seq
	})
	return due
}

// snapshot returns copies of all items matching the filter.
func (q *queue) snapshot(campaignID uuid.UUID, state domain.QueueItemState) []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.QueueItem
	for _, item := range q.items {
		if campaignID != uuid.Nil && item.CampaignID != campaignID {
			continue
		}
		if state != "" && item.State != state {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// priorityScore ranks an item: campaign priority dominates, later attempts
// rank below fresh ones within the same campaign.
func priorityScore(campaignPriority, attemptNumber int) int {
	return campaignPriority*100 - attemptNumber
}
