package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rrbip/batirama-connect-sub002/internal/service"
	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
)

// httpError maps service errors onto HTTP statuses; anything unknown stays a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound), errors.Is(err, service.ErrAgentNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, learning.ErrIncomplete), errors.Is(err, service.ErrInvalidLearnedId):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return err
}

func paramUUID(ctx *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
