package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/repository"
)

// ExperimentRepository implements repository.ExperimentRepository using
// PostgreSQL. Variants live in their own table and cascade with the
// experiment row.
type ExperimentRepository struct {
	db *sqlx.DB
}

// NewExperimentRepository constructs a new repository.
func NewExperimentRepository(db *sqlx.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Create inserts an experiment together with its variants.
func (r *ExperimentRepository) Create(ctx context.Context, exp *domain.Experiment) error {
	expQuery := `INSERT INTO experiments (
		id, campaign_id, primary_metric, confidence_level, min_sample_size,
		auto_stop, ramp_start_percent, ramp_up_days, status, winner_variant_id,
		started_at, created_at
	) VALUES (
		:id, :campaign_id, :primary_metric, :confidence_level, :min_sample_size,
		:auto_stop, :ramp_start_percent, :ramp_up_days, :status, :winner_variant_id,
		:started_at, :created_at
	)`
	variantQuery := `INSERT INTO variants (
		id, experiment_id, name, traffic_allocation_percent, is_control, script_ref
	) VALUES (
		:id, :experiment_id, :name, :traffic_allocation_percent, :is_control, :script_ref
	)`

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, expQuery, experimentParams(exp)); err != nil {
			return fmt.Errorf("experiment repo: insert: %w", err)
		}
		for _, v := range exp.Variants {
			params := map[string]any{
				"id":                         v.ID,
				"experiment_id":              exp.ID,
				"name":                       v.Name,
				"traffic_allocation_percent": v.TrafficAllocationPercent,
				"is_control":                 v.IsControl,
				"script_ref":                 v.ScriptRef,
			}
			if _, err := tx.NamedExecContext(ctx, variantQuery, params); err != nil {
				return fmt.Errorf("experiment repo: insert variant: %w", err)
			}
		}
		return nil
	})
}

// Get fetches an experiment by id.
func (r *ExperimentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Experiment, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByCampaign fetches the campaign's experiment regardless of status.
func (r *ExperimentRepository) GetByCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Experiment, error) {
	return r.getOne(ctx, `WHERE campaign_id = $1`, campaignID)
}

func (r *ExperimentRepository) getOne(ctx context.Context, where string, arg any) (*domain.Experiment, error) {
	q := `SELECT id, campaign_id, primary_metric, confidence_level, min_sample_size,
		auto_stop, ramp_start_percent, ramp_up_days, status, winner_variant_id,
		started_at, created_at
	  FROM experiments ` + where

	row := r.db.QueryRowxContext(ctx, q, arg)
	var record experimentRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("experiment repo: get: %w", err)
	}

	exp := record.toDomain()
	variants, err := r.listVariants(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	exp.Variants = variants
	return &exp, nil
}

// SetStatus performs a checked status transition. Completing an experiment
// also records the winning variant.
func (r *ExperimentRepository) SetStatus(ctx context.Context, id uuid.UUID, from, to domain.ExperimentStatus, winner uuid.UUID) error {
	q := `UPDATE experiments SET status = $1, winner_variant_id = $2,
		started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $3 ELSE started_at END
	  WHERE id = $4 AND status = $5`

	var winnerValue any
	if winner != uuid.Nil {
		winnerValue = winner
	}
	res, err := r.db.ExecContext(ctx, q, to, winnerValue, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("experiment repo: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("experiment repo: rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrConflict
	}
	return nil
}

func (r *ExperimentRepository) listVariants(ctx context.Context, experimentID uuid.UUID) ([]domain.Variant, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, experiment_id, name, traffic_allocation_percent, is_control, script_ref
		   FROM variants WHERE experiment_id = $1 ORDER BY is_control DESC, name ASC`,
		experimentID)
	if err != nil {
		return nil, fmt.Errorf("experiment repo: list variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var record variantRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("experiment repo: scan variant: %w", err)
		}
		variants = append(variants, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("experiment repo: rows err: %w", err)
	}
	return variants, nil
}

type experimentRecord struct {
	ID               uuid.UUID      `db:"id"`
	CampaignID       uuid.UUID      `db:"campaign_id"`
	PrimaryMetric    string         `db:"primary_metric"`
	ConfidenceLevel  float64        `db:"confidence_level"`
	MinSampleSize    int            `db:"min_sample_size"`
	AutoStop         bool           `db:"auto_stop"`
	RampStartPercent sql.NullInt64  `db:"ramp_start_percent"`
	RampUpDays       sql.NullInt64  `db:"ramp_up_days"`
	Status           string         `db:"status"`
	WinnerVariantID  uuid.NullUUID  `db:"winner_variant_id"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CreatedAt        sql.NullTime   `db:"created_at"`
}

func (r experimentRecord) toDomain() domain.Experiment {
	exp := domain.Experiment{
		ID:              r.ID,
		CampaignID:      r.CampaignID,
		PrimaryMetric:   r.PrimaryMetric,
		ConfidenceLevel: r.ConfidenceLevel,
		MinSampleSize:   r.MinSampleSize,
		AutoStop:        r.AutoStop,
		Status:          domain.ExperimentStatus(r.Status),
		CreatedAt:       r.CreatedAt.Time,
	}
	if r.RampUpDays.Valid && r.RampUpDays.Int64 > 0 {
		exp.RampUp = &domain.RampUp{
			StartPercent: int(r.RampStartPercent.Int64),
			RampUpDays:   int(r.RampUpDays.Int64),
		}
	}
	if r.WinnerVariantID.Valid {
		exp.WinnerVariantID = r.WinnerVariantID.UUID
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		exp.StartedAt = &t
	}
	return exp
}

func experimentParams(exp *domain.Experiment) map[string]any {
	params := map[string]any{
		"id":                 exp.ID,
		"campaign_id":        exp.CampaignID,
		"primary_metric":     exp.PrimaryMetric,
		"confidence_level":   exp.ConfidenceLevel,
		"min_sample_size":    exp.MinSampleSize,
		"auto_stop":          exp.AutoStop,
		"ramp_start_percent": nil,
		"ramp_up_days":       nil,
		"status":             exp.Status,
		"winner_variant_id":  nil,
		"started_at":         exp.StartedAt,
		"created_at":         exp.CreatedAt,
	}
	if exp.RampUp != nil {
		params["ramp_start_percent"] = exp.RampUp.StartPercent
		params["ramp_up_days"] = exp.RampUp.RampUpDays
	}
	if exp.WinnerVariantID != uuid.Nil {
		params["winner_variant_id"] = exp.WinnerVariantID
	}
	return params
}

type variantRecord struct {
	ID                       uuid.UUID `db:"id"`
	ExperimentID             uuid.UUID `db:"experiment_id"`
	Name                     string    `db:"name"`
	TrafficAllocationPercent int       `db:"traffic_allocation_percent"`
	IsControl                bool      `db:"is_control"`
	ScriptRef                string    `db:"script_ref"`
}

func (r variantRecord) toDomain() domain.Variant {
	return domain.Variant{
		ID:                       r.ID,
		ExperimentID:             r.ExperimentID,
		Name:                     r.Name,
		TrafficAllocationPercent: r.TrafficAllocationPercent,
		IsControl:                r.IsControl,
		ScriptRef:                r.ScriptRef,
	}
}
