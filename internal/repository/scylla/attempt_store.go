// Package scylla holds the append-only attempt log. Attempts are immutable
// history, partitioned by lead so a lead's timeline reads from one partition.
package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

// AttemptStore persists call attempts in Scylla.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// Append inserts one attempt. Attempts are never updated or deleted.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.CallAttempt) error {
	if err := s.session.Query(`INSERT INTO attempts_by_lead
		(lead_id, attempt_number, attempt_id, campaign_id, variant_id, outcome, duration_seconds, terminal_node, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.LeadID.String(), attempt.AttemptNumber, attempt.ID.String(),
		attempt.CampaignID.String(), attempt.VariantID.String(), string(attempt.Outcome),
		attempt.DurationSeconds, attempt.TerminalNode, attempt.StartedAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: insert attempts_by_lead: %w", err)
	}
	return nil
}

// ListByLead returns the attempt history for a lead in attempt order.
func (s *AttemptStore) ListByLead(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.CallAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	iter := s.session.Query(`SELECT lead_id, attempt_number, attempt_id, campaign_id, variant_id, outcome, duration_seconds, terminal_node, started_at
		FROM attempts_by_lead WHERE lead_id = ? ORDER BY attempt_number ASC LIMIT ?`,
		leadID.String(), limit).WithContext(ctx).Iter()

	var (
		attempts []domain.CallAttempt
		record   attemptRow
	)
	for iter.Scan(&record.leadID, &record.attemptNumber, &record.attemptID,
		&record.campaignID, &record.variantID, &record.outcome,
		&record.durationSeconds, &record.terminalNode, &record.startedAt) {
		attempt, err := record.toDomain()
		if err != nil {
			iter.Close()
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt store: list by lead: %w", err)
	}
	return attempts, nil
}

type attemptRow struct {
	leadID          string
	attemptNumber   int
	attemptID       string
	campaignID      string
	variantID       string
	outcome         string
	durationSeconds int
	terminalNode    string
	startedAt       time.Time
}

func (r attemptRow) toDomain() (domain.CallAttempt, error) {
	leadID, err := uuid.Parse(r.leadID)
	if err != nil {
		return domain.CallAttempt{}, fmt.Errorf("attempt store: parse lead_id: %w", err)
	}
	attemptID, err := uuid.Parse(r.attemptID)
	if err != nil {
		return domain.CallAttempt{}, fmt.Errorf("attempt store: parse attempt_id: %w", err)
	}
	campaignID, err := uuid.Parse(r.campaignID)
	if err != nil {
		return domain.CallAttempt{}, fmt.Errorf("attempt store: parse campaign_id: %w", err)
	}
	variantID, err := uuid.Parse(r.variantID)
	if err != nil {
		return domain.CallAttempt{}, fmt.Errorf("attempt store: parse variant_id: %w", err)
	}

	return domain.CallAttempt{
		ID:              attemptID,
		LeadID:          leadID,
		CampaignID:      campaignID,
		VariantID:       variantID,
		AttemptNumber:   r.attemptNumber,
		StartedAt:       r.startedAt,
		Outcome:         domain.Outcome(r.outcome),
		DurationSeconds: r.durationSeconds,
		TerminalNode:    r.terminalNode,
	}, nil
}
