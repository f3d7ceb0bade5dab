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

// FunnelRepository stores funnel graphs as JSONB, one row per campaign. The
// graph is validated before it gets here, so the row is opaque to SQL.
type FunnelRepository struct {
	db *sqlx.DB
}

// NewFunnelRepository constructs a new repository.
func NewFunnelRepository(db *sqlx.DB) *FunnelRepository {
	return &FunnelRepository{db: db}
}

// Replace upserts the campaign's funnel graph.
func (r *FunnelRepository) Replace(ctx context.Context, campaignID uuid.UUID, graph domain.FunnelGraph) error {
	graph.CampaignID = campaignID.String()
	payload, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("funnel repo: encode graph: %w", err)
	}

	q := `INSERT INTO funnels (campaign_id, graph, updated_at)
	      VALUES ($1, $2, $3)
	      ON CONFLICT (campaign_id) DO UPDATE SET graph = $2, updated_at = $3`
	if _, err := r.db.ExecContext(ctx, q, campaignID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("funnel repo: replace: %w", err)
	}
	return nil
}

// Get returns the stored funnel graph for the campaign.
func (r *FunnelRepository) Get(ctx context.Context, campaignID uuid.UUID) (domain.FunnelGraph, error) {
	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT graph FROM funnels WHERE campaign_id = $1`, campaignID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.FunnelGraph{}, repository.ErrNotFound
		}
		return domain.FunnelGraph{}, fmt.Errorf("funnel repo: get: %w", err)
	}

	var graph domain.FunnelGraph
	if err := json.Unmarshal(payload, &graph); err != nil {
		return domain.FunnelGraph{}, fmt.Errorf("funnel repo: decode graph: %w", err)
	}
	return graph, nil
}
