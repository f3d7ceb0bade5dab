package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/repository"
	"github.com/acme/voice-dispatch/pkg/logger"
)

// LeadMessage is one inbound lead on the ingest topic.
type LeadMessage struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Phone      string    `json:"phone"`
	Tags       []string  `json:"tags,omitempty"`
}

// Enqueuer projects freshly stored leads into the dispatch queue.
type Enqueuer interface {
	EnqueueLead(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign, scheduledAt time.Time) error
}

// LeadIngestor consumes the lead topic and feeds the campaign's queue. Leads
// for inactive campaigns are stored as new and picked up on activation.
type LeadIngestor struct {
	kafka     *Kafka
	topic     string
	groupID   string
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	enqueuer  Enqueuer
	logger    *logger.Logger
}

// NewLeadIngestor builds the ingest worker.
func NewLeadIngestor(
	k *Kafka,
	topic, groupID string,
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	enqueuer Enqueuer,
	lg *logger.Logger,
) *LeadIngestor {
	return &LeadIngestor{
		kafka:     k,
		topic:     topic,
		groupID:   groupID,
		campaigns: campaigns,
		leads:     leads,
		enqueuer:  enqueuer,
		logger:    lg,
	}
}

// Run processes lead messages until the context is cancelled.
func (w *LeadIngestor) Run(ctx context.Context) error {
	reader := w.kafka.NewReader(w.topic, w.groupID)
	defer reader.Close()

	tracer := otel.Tracer("dispatch.leadingest")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("lead ingest: fetch", zap.Error(err))
			continue
		}

		var lead LeadMessage
		if err := json.Unmarshal(msg.Value, &lead); err != nil {
			w.logger.Error("lead ingest: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "lead.ingest", trace.WithAttributes(
			attribute.String("campaign.id", lead.CampaignID.String()),
		))

		if err := w.handle(sctx, lead); err != nil {
			span.RecordError(err)
			w.logger.Error("lead ingest: handle", zap.Error(err))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			w.logger.Error("lead ingest: commit", zap.Error(err))
		}
		span.End()
	}
}

func (w *LeadIngestor) handle(ctx context.Context, msg LeadMessage) error {
	campaign, err := w.campaigns.Get(ctx, msg.CampaignID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	lead := &domain.Lead{
		ID:         uuid.New(),
		CampaignID: campaign.ID,
		Phone:      msg.Phone,
		Status:     domain.LeadStatusNew,
		Tags:       msg.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := w.leads.BulkInsert(ctx, []*domain.Lead{lead}); err != nil {
		return err
	}

	if campaign.State != domain.CampaignStateActive {
		return nil
	}
	return w.enqueuer.EnqueueLead(ctx, lead, campaign, now)
}
