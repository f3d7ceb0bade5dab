package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/metrics"
)

// MetricsRepository is the durable write-behind target of the in-process
// metrics store. Counters are incremented with upserts, so deltas from many
// workers and restarts accumulate without coordination.
type MetricsRepository struct {
	db *sqlx.DB
}

// NewMetricsRepository constructs a new repository.
func NewMetricsRepository(db *sqlx.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// ApplyVariantDelta accumulates per-variant counters.
func (r *MetricsRepository) ApplyVariantDelta(ctx context.Context, variantID uuid.UUID, delta metrics.VariantDelta) error {
	q := `INSERT INTO variant_metrics (variant_id, calls, conversions, sms_consents, total_duration_seconds)
	      VALUES ($1, $2, $3, $4, $5)
	      ON CONFLICT (variant_id) DO UPDATE SET
	        calls = variant_metrics.calls + $2,
	        conversions = variant_metrics.conversions + $3,
	        sms_consents = variant_metrics.sms_consents + $4,
	        total_duration_seconds = variant_metrics.total_duration_seconds + $5`

	if _, err := r.db.ExecContext(ctx, q, variantID,
		delta.Calls, delta.Conversions, delta.SMSConsents, delta.TotalDurationSeconds); err != nil {
		return fmt.Errorf("metrics repo: variant delta: %w", err)
	}
	return nil
}

// ApplyCampaignDelta accumulates campaign-level counters.
func (r *MetricsRepository) ApplyCampaignDelta(ctx context.Context, campaignID uuid.UUID, delta metrics.CampaignDelta) error {
	q := `INSERT INTO campaign_metrics (campaign_id, total_calls, completed_calls, failed_calls, retries_scheduled, transport_errors)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (campaign_id) DO UPDATE SET
	        total_calls = campaign_metrics.total_calls + $2,
	        completed_calls = campaign_metrics.completed_calls + $3,
	        failed_calls = campaign_metrics.failed_calls + $4,
	        retries_scheduled = campaign_metrics.retries_scheduled + $5,
	        transport_errors = campaign_metrics.transport_errors + $6`

	if _, err := r.db.ExecContext(ctx, q, campaignID,
		delta.TotalCalls, delta.CompletedCalls, delta.FailedCalls,
		delta.RetriesScheduled, delta.TransportErrors); err != nil {
		return fmt.Errorf("metrics repo: campaign delta: %w", err)
	}
	return nil
}

// LoadVariantMetrics returns the persisted counters for the given variants,
// used to seed the in-process store on startup.
func (r *MetricsRepository) LoadVariantMetrics(ctx context.Context, variantIDs []uuid.UUID) ([]domain.VariantMetrics, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT variant_id, calls, conversions, sms_consents, total_duration_seconds
		   FROM variant_metrics WHERE variant_id IN (?)`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("metrics repo: build query: %w", err)
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metrics repo: load variants: %w", err)
	}
	defer rows.Close()

	var results []domain.VariantMetrics
	for rows.Next() {
		var record variantMetricsRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("metrics repo: scan: %w", err)
		}
		results = append(results, domain.VariantMetrics{
			VariantID:            record.VariantID,
			Calls:                record.Calls,
			Conversions:          record.Conversions,
			SMSConsents:          record.SMSConsents,
			TotalDurationSeconds: record.TotalDurationSeconds,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metrics repo: rows err: %w", err)
	}
	return results, nil
}

type variantMetricsRecord struct {
	VariantID            uuid.UUID `db:"variant_id"`
	Calls                int64     `db:"calls"`
	Conversions          int64     `db:"conversions"`
	SMSConsents          int64     `db:"sms_consents"`
	TotalDurationSeconds int64     `db:"total_duration_seconds"`
}
