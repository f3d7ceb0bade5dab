package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/domain"
)

type queueResponse struct {
	Items []domain.QueueItem `json:"items"`
}

func (h *HandlerSet) queue(ctx *fiber.Ctx) error {
	state := domain.QueueItemState(ctx.Query("state"))
	items := h.campaigns.QueueItems(uuid.Nil, state)
	return ctx.JSON(queueResponse{Items: items})
}

func (h *HandlerSet) campaignQueue(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	state := domain.QueueItemState(ctx.Query("state"))
	items := h.campaigns.QueueItems(id, state)
	return ctx.JSON(queueResponse{Items: items})
}

func (h *HandlerSet) setFunnel(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	var graph domain.FunnelGraph
	if err := ctx.BodyParser(&graph); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.campaigns.SetFunnel(ctx.Context(), id, graph); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) getFunnel(ctx *fiber.Ctx) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}
	graph, err := h.campaigns.Funnel(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(graph)
}
