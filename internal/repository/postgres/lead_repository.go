package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/repository"
)

// LeadRepository implements repository.LeadRepository using PostgreSQL.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a new repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `id, campaign_id, phone, status, consent_sms, attempt_count,
	next_attempt_at, tags, created_at, updated_at`

// BulkInsert stores a batch of leads atomically.
func (r *LeadRepository) BulkInsert(ctx context.Context, leads []*domain.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	q := `INSERT INTO leads (
		id, campaign_id, phone, status, consent_sms, attempt_count,
		next_attempt_at, tags, created_at, updated_at
	) VALUES (
		:id, :campaign_id, :phone, :status, :consent_sms, :attempt_count,
		:next_attempt_at, :tags, :created_at, :updated_at
	)`

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, lead := range leads {
			params, err := leadParams(lead)
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, q, params); err != nil {
				return fmt.Errorf("lead repo: insert: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	var record leadRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}

	lead, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Update persists lead state.
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	q := `UPDATE leads SET
		status = :status,
		consent_sms = :consent_sms,
		attempt_count = :attempt_count,
		next_attempt_at = :next_attempt_at,
		tags = :tags,
		updated_at = :updated_at
	 WHERE id = :id`

	params, err := leadParams(lead)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("lead repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListByCampaign returns leads of the campaign, optionally filtered by status.
func (r *LeadRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status domain.LeadStatus, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows *sqlx.Rows
	var err error
	if status != "" {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE campaign_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`,
			campaignID, status, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE campaign_id = $1 ORDER BY created_at ASC LIMIT $2`,
			campaignID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("lead repo: list: %w", err)
	}
	defer rows.Close()

	return scanLeads(rows)
}

// DueForDispatch returns in_queue leads whose next attempt time has passed.
func (r *LeadRepository) DueForDispatch(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]*domain.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		  WHERE campaign_id = $1 AND status = $2
		    AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		  ORDER BY next_attempt_at ASC NULLS FIRST LIMIT $4`,
		campaignID, domain.LeadStatusInQueue, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lead repo: due for dispatch: %w", err)
	}
	defer rows.Close()

	return scanLeads(rows)
}

func scanLeads(rows *sqlx.Rows) ([]*domain.Lead, error) {
	var results []*domain.Lead
	for rows.Next() {
		var record leadRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		lead, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, &lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

type leadRecord struct {
	ID            uuid.UUID    `db:"id"`
	CampaignID    uuid.UUID    `db:"campaign_id"`
	Phone         string       `db:"phone"`
	Status        string       `db:"status"`
	ConsentSMS    bool         `db:"consent_sms"`
	AttemptCount  int          `db:"attempt_count"`
	NextAttemptAt sql.NullTime `db:"next_attempt_at"`
	Tags          []byte       `db:"tags"`
	CreatedAt     sql.NullTime `db:"created_at"`
	UpdatedAt     sql.NullTime `db:"updated_at"`
}

func (r leadRecord) toDomain() (domain.Lead, error) {
	lead := domain.Lead{
		ID:           r.ID,
		CampaignID:   r.CampaignID,
		Phone:        r.Phone,
		Status:       domain.LeadStatus(r.Status),
		ConsentSMS:   r.ConsentSMS,
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
	if r.NextAttemptAt.Valid {
		t := r.NextAttemptAt.Time
		lead.NextAttemptAt = &t
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &lead.Tags); err != nil {
			return domain.Lead{}, fmt.Errorf("lead repo: decode tags: %w", err)
		}
	}
	return lead, nil
}

func leadParams(lead *domain.Lead) (map[string]any, error) {
	tags, err := json.Marshal(lead.Tags)
	if err != nil {
		return nil, fmt.Errorf("lead repo: encode tags: %w", err)
	}
	return map[string]any{
		"id":              lead.ID,
		"campaign_id":     lead.CampaignID,
		"phone":           lead.Phone,
		"status":          lead.Status,
		"consent_sms":     lead.ConsentSMS,
		"attempt_count":   lead.AttemptCount,
		"next_attempt_at": lead.NextAttemptAt,
		"tags":            tags,
		"created_at":      lead.CreatedAt,
		"updated_at":      lead.UpdatedAt,
	}, nil
}
