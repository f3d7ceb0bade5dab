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

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, priority, max_concurrency, max_attempts,
	retry_interval_minutes, dial_timeout_ms, script_ref, time_zone,
	business_hours, state, created_at, updated_at, started_at, completed_at`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, priority, max_concurrency, max_attempts,
		retry_interval_minutes, dial_timeout_ms, script_ref, time_zone,
		business_hours, state, created_at, updated_at, started_at, completed_at
	) VALUES (
		:id, :name, :priority, :max_concurrency, :max_attempts,
		:retry_interval_minutes, :dial_timeout_ms, :script_ref, :time_zone,
		:business_hours, :state, :created_at, :updated_at, :started_at, :completed_at
	)`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, q, params); err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, q, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Update persists campaign metadata.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		priority = :priority,
		max_concurrency = :max_concurrency,
		max_attempts = :max_attempts,
		retry_interval_minutes = :retry_interval_minutes,
		dial_timeout_ms = :dial_timeout_ms,
		script_ref = :script_ref,
		time_zone = :time_zone,
		business_hours = :business_hours,
		state = :state,
		updated_at = :updated_at,
		started_at = :started_at,
		completed_at = :completed_at
	 WHERE id = :id`

	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}
	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CompareAndSetState transitions state only when the current value matches
// from. The guard runs inside the UPDATE so concurrent operators cannot both
// win the same transition.
func (r *CampaignRepository) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.CampaignState) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("campaign repo: set state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

// List returns campaigns with optional keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+campaignColumns+` FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`,
			*afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+campaignColumns+` FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListByState returns campaigns filtered by lifecycle state.
func (r *CampaignRepository) ListByState(ctx context.Context, state domain.CampaignState, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE state = $1 ORDER BY updated_at ASC LIMIT $2`,
		state, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list by state: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

type campaignRecord struct {
	ID                   uuid.UUID    `db:"id"`
	Name                 string       `db:"name"`
	Priority             int          `db:"priority"`
	MaxConcurrency       int          `db:"max_concurrency"`
	MaxAttempts          int          `db:"max_attempts"`
	RetryIntervalMinutes int          `db:"retry_interval_minutes"`
	DialTimeoutMs        int64        `db:"dial_timeout_ms"`
	ScriptRef            string       `db:"script_ref"`
	TimeZone             string       `db:"time_zone"`
	BusinessHours        []byte       `db:"business_hours"`
	State                string       `db:"state"`
	CreatedAt            sql.NullTime `db:"created_at"`
	UpdatedAt            sql.NullTime `db:"updated_at"`
	StartedAt            sql.NullTime `db:"started_at"`
	CompletedAt          sql.NullTime `db:"completed_at"`
}

// businessHourRow is the JSONB shape of one calling window.
type businessHourRow struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"` // HH:MM
	End       string `json:"end"`
}

func (r campaignRecord) toDomain() (domain.Campaign, error) {
	campaign := domain.Campaign{
		ID:                   r.ID,
		Name:                 r.Name,
		Priority:             r.Priority,
		MaxConcurrency:       r.MaxConcurrency,
		MaxAttempts:          r.MaxAttempts,
		RetryIntervalMinutes: r.RetryIntervalMinutes,
		DialTimeout:          time.Duration(r.DialTimeoutMs) * time.Millisecond,
		ScriptRef:            r.ScriptRef,
		TimeZone:             r.TimeZone,
		State:                domain.CampaignState(r.State),
		CreatedAt:            r.CreatedAt.Time,
		UpdatedAt:            r.UpdatedAt.Time,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		campaign.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		campaign.CompletedAt = &t
	}

	if len(r.BusinessHours) > 0 {
		var windows []businessHourRow
		if err := json.Unmarshal(r.BusinessHours, &windows); err != nil {
			return domain.Campaign{}, fmt.Errorf("campaign repo: decode business hours: %w", err)
		}
		for _, w := range windows {
			start, err := time.Parse("15:04", w.Start)
			if err != nil {
				return domain.Campaign{}, fmt.Errorf("campaign repo: decode window start: %w", err)
			}
			end, err := time.Parse("15:04", w.End)
			if err != nil {
				return domain.Campaign{}, fmt.Errorf("campaign repo: decode window end: %w", err)
			}
			campaign.BusinessHours = append(campaign.BusinessHours, domain.BusinessHourWindow{
				DayOfWeek: time.Weekday(w.DayOfWeek),
				Start:     start,
				End:       end,
			})
		}
	}
	return campaign, nil
}

func campaignParams(campaign *domain.Campaign) (map[string]any, error) {
	windows := make([]businessHourRow, 0, len(campaign.BusinessHours))
	for _, w := range campaign.BusinessHours {
		windows = append(windows, businessHourRow{
			DayOfWeek: int(w.DayOfWeek),
			Start:     w.Start.Format("15:04"),
			End:       w.End.Format("15:04"),
		})
	}
	hours, err := json.Marshal(windows)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: encode business hours: %w", err)
	}

	return map[string]any{
		"id":                     campaign.ID,
		"name":                   campaign.Name,
		"priority":               campaign.Priority,
		"max_concurrency":        campaign.MaxConcurrency,
		"max_attempts":           campaign.MaxAttempts,
		"retry_interval_minutes": campaign.RetryIntervalMinutes,
		"dial_timeout_ms":        campaign.DialTimeout.Milliseconds(),
		"script_ref":             campaign.ScriptRef,
		"time_zone":              campaign.TimeZone,
		"business_hours":         hours,
		"state":                  campaign.State,
		"created_at":             campaign.CreatedAt,
		"updated_at":             campaign.UpdatedAt,
		"started_at":             campaign.StartedAt,
		"completed_at":           campaign.CompletedAt,
	}, nil
}
