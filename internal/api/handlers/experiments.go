package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

type variantRequest struct {
	Name                     string `json:"name"`
	TrafficAllocationPercent int    `json:"traffic_allocation_percent"`
	IsControl                bool   `json:"is_control"`
	ScriptRef                string `json:"script_ref"`
}

type createExperimentRequest struct {
	Variants        []variantRequest `json:"variants"`
	PrimaryMetric   string           `json:"primary_metric"`
	ConfidenceLevel float64          `json:"confidence_level"`
	MinSampleSize   int              `json:"min_sample_size"`
	AutoStop        bool             `json:"auto_stop"`
	RampUp          *rampUpRequest   `json:"ramp_up,omitempty"`
}

type rampUpRequest struct {
	StartPercent int `json:"start_percent"`
	RampUpDays   int `json:"ramp_up_days"`
}

type experimentResponse struct {
	ID              uuid.UUID               `json:"id"`
	CampaignID      uuid.UUID               `json:"campaign_id"`
	Variants        []variantResponse       `json:"variants"`
	PrimaryMetric   string                  `json:"primary_metric"`
	ConfidenceLevel float64                 `json:"confidence_level"`
	MinSampleSize   int                     `json:"min_sample_size"`
	AutoStop        bool                    `json:"auto_stop"`
	RampUp          *rampUpRequest          `json:"ramp_up,omitempty"`
	Status          domain.ExperimentStatus `json:"status"`
	WinnerVariantID *uuid.UUID              `json:"winner_variant_id,omitempty"`
}

type variantResponse struct {
	ID                       uuid.UUID `json:"id"`
	Name                     string    `json:"name"`
	TrafficAllocationPercent int       `json:"traffic_allocation_percent"`
	IsControl                bool      `json:"is_control"`
	ScriptRef                string    `json:"script_ref"`
}

type experimentResultsResponse struct {
	ExperimentID uuid.UUID                   `json:"experiment_id"`
	Results      []domain.SignificanceResult `json:"results"`
}

func (h *HandlerSet) createExperiment(ctx *fiber.Ctx) error {
	campaignID, err := parseID(ctx)
	if err != nil {
		return err
	}

	var req createExperimentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	exp := &domain.Experiment{
		CampaignID:      campaignID,
		PrimaryMetric:   req.PrimaryMetric,
		ConfidenceLevel: req.ConfidenceLevel,
		MinSampleSize:   req.MinSampleSize,
		AutoStop:        req.AutoStop,
	}
	if req.RampUp != nil {
		exp.RampUp = &domain.RampUp{
			StartPercent: req.RampUp.StartPercent,
			RampUpDays:   req.RampUp.RampUpDays,
		}
	}
	for _, v := range req.Variants {
		exp.Variants = append(exp.Variants, domain.Variant{
			Name:                     v.Name,
			TrafficAllocationPercent: v.TrafficAllocationPercent,
			IsControl:                v.IsControl,
			ScriptRef:                v.ScriptRef,
		})
	}

	created, err := h.campaigns.CreateExperiment(ctx.Context(), exp)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toExperimentResponse(created))
}

func (h *HandlerSet) getExperiment(ctx *fiber.Ctx) error {
	campaignID, err := parseID(ctx)
	if err != nil {
		return err
	}
	exp, err := h.campaigns.Experiment(ctx.Context(), campaignID)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toExperimentResponse(exp))
}

func (h *HandlerSet) experimentResults(ctx *fiber.Ctx) error {
	experimentID, err := parseID(ctx)
	if err != nil {
		return err
	}

	results, err := h.campaigns.ExperimentResults(ctx.Context(), experimentID)
	if err != nil {
		return translateError(err)
	}

	resp := experimentResultsResponse{ExperimentID: experimentID}
	for _, r := range results {
		resp.Results = append(resp.Results, r)
	}
	return ctx.JSON(resp)
}

func toExperimentResponse(exp *domain.Experiment) experimentResponse {
	resp := experimentResponse{
		ID:              exp.ID,
		CampaignID:      exp.CampaignID,
		PrimaryMetric:   exp.PrimaryMetric,
		ConfidenceLevel: exp.ConfidenceLevel,
		MinSampleSize:   exp.MinSampleSize,
		AutoStop:        exp.AutoStop,
		Status:          exp.Status,
	}
	if exp.RampUp != nil {
		resp.RampUp = &rampUpRequest{
			StartPercent: exp.RampUp.StartPercent,
			RampUpDays:   exp.RampUp.RampUpDays,
		}
	}
	if exp.WinnerVariantID != uuid.Nil {
		id := exp.WinnerVariantID
		resp.WinnerVariantID = &id
	}
	for _, v := range exp.Variants {
		resp.Variants = append(resp.Variants, variantResponse{
			ID:                       v.ID,
			Name:                     v.Name,
			TrafficAllocationPercent: v.TrafficAllocationPercent,
			IsControl:                v.IsControl,
			ScriptRef:                v.ScriptRef,
		})
	}
	return resp
}
