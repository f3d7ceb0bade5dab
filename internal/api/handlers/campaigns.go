package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
	campaignsvc "github.com/acme/voice-dispatch/internal/service/campaign"
)

type createCampaignRequest struct {
	Name                 string                `json:"name"`
	Priority             int                   `json:"priority"`
	MaxConcurrency       int                   `json:"max_concurrency"`
	MaxAttempts          int                   `json:"max_attempts"`
	RetryIntervalMinutes int                   `json:"retry_interval_minutes"`
	DialTimeoutSeconds   int                   `json:"dial_timeout_seconds"`
	ScriptRef            string                `json:"script_ref"`
	TimeZone             string                `json:"time_zone"`
	BusinessHours        []businessHourRequest `json:"business_hours"`
}

type businessHourRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"` // HH:MM
	End       string `json:"end"`
}

type leadRequest struct {
	Phone string   `json:"phone"`
	Tags  []string `json:"tags"`
}

type addLeadsRequest struct {
	Leads []leadRequest `json:"leads"`
}

type campaignResponse struct {
	ID                   uuid.UUID              `json:"id"`
	Name                 string                 `json:"name"`
	Priority             int                    `json:"priority"`
	MaxConcurrency       int                    `json:"max_concurrency"`
	MaxAttempts          int                    `json:"max_attempts"`
	RetryIntervalMinutes int                    `json:"retry_interval_minutes"`
	DialTimeoutSeconds   int                    `json:"dial_timeout_seconds"`
	ScriptRef            string                 `json:"script_ref"`
	TimeZone             string                 `json:"time_zone"`
	State                domain.CampaignState   `json:"state"`
	BusinessHours        []businessHourRequest  `json:"business_hours"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty"`
}

type listCampaignsResponse struct {
	Campaigns []campaignResponse `json:"campaigns"`
}

type campaignMetricsResponse struct {
	Stats    domain.CampaignStats    `json:"stats"`
	Variants []domain.VariantMetrics `json:"variants,omitempty"`
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input, err := toCreateCampaignInput(req)
	if err != nil {
		return translateError(err)
	}

	campaign, err := h.campaigns.Create(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	var afterID *uuid.UUID
	if after := ctx.Query("after"); after != "" {
		id, err := uuid.Parse(after)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid cursor")
		}
		afterID = &id
	}

	campaigns, err := h.campaigns.List(ctx.Context(), afterID, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listCampaignsResponse{Campaigns: make([]campaignResponse, 0, len(campaigns))}
	for _, c := range campaigns {
		resp.Campaigns = append(resp.Campaigns, toCampaignResponse(c))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	campaign, err := h.campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) activateCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := h.campaigns.Activate(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := h.campaigns.Pause(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) completeCampaign(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	if err := h.campaigns.Complete(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) campaignMetrics(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	stats, err := h.campaigns.Stats(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	resp := campaignMetricsResponse{Stats: stats}
	if variants, err := h.campaigns.VariantMetrics(ctx.Context(), id); err == nil {
		resp.Variants = variants
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) addLeads(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	var req addLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	inputs := make([]campaignsvc.LeadInput, 0, len(req.Leads))
	for _, l := range req.Leads {
		inputs = append(inputs, campaignsvc.LeadInput{Phone: l.Phone, Tags: l.Tags})
	}

	leads, err := h.campaigns.AddLeads(ctx.Context(), id, inputs)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"created": len(leads)})
}

func parseID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func toCreateCampaignInput(req createCampaignRequest) (campaignsvc.CreateCampaignInput, error) {
	input := campaignsvc.CreateCampaignInput{
		Name:                 req.Name,
		Priority:             req.Priority,
		MaxConcurrency:       req.MaxConcurrency,
		MaxAttempts:          req.MaxAttempts,
		RetryIntervalMinutes: req.RetryIntervalMinutes,
		DialTimeout:          time.Duration(req.DialTimeoutSeconds) * time.Second,
		ScriptRef:            req.ScriptRef,
		TimeZone:             req.TimeZone,
	}
	for _, bh := range req.BusinessHours {
		start, err := time.Parse("15:04", bh.Start)
		if err != nil {
			return input, fiber.NewError(http.StatusBadRequest, "invalid window start, expected HH:MM")
		}
		end, err := time.Parse("15:04", bh.End)
		if err != nil {
			return input, fiber.NewError(http.StatusBadRequest, "invalid window end, expected HH:MM")
		}
		input.BusinessHours = append(input.BusinessHours, campaignsvc.BusinessHourInput{
			DayOfWeek: time.Weekday(bh.DayOfWeek),
			Start:     start,
			End:       end,
		})
	}
	return input, nil
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	resp := campaignResponse{
		ID:                   c.ID,
		Name:                 c.Name,
		Priority:             c.Priority,
		MaxConcurrency:       c.MaxConcurrency,
		MaxAttempts:          c.MaxAttempts,
		RetryIntervalMinutes: c.RetryIntervalMinutes,
		DialTimeoutSeconds:   int(c.DialTimeout / time.Second),
		ScriptRef:            c.ScriptRef,
		TimeZone:             c.TimeZone,
		State:                c.State,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
		StartedAt:            c.StartedAt,
		CompletedAt:          c.CompletedAt,
	}
	for _, w := range c.BusinessHours {
		resp.BusinessHours = append(resp.BusinessHours, businessHourRequest{
			DayOfWeek: int(w.DayOfWeek),
			Start:     w.Start.Format("15:04"),
			End:       w.End.Format("15:04"),
		})
	}
	return resp
}
