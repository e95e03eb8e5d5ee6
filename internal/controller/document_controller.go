package controller

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/serverutils"
	"github.com/rrbip/batirama-connect-sub002/internal/service"
)

type IDocumentController interface {
	RegisterRoutes(r fiber.Router)
	Process(ctx *fiber.Ctx) error
	Reindex(ctx *fiber.Ctx) error
	Deindex(ctx *fiber.Ctx) error
	ProcessPending(ctx *fiber.Ctx) error
}

type documentController struct {
	ingestionService service.IIngestionService
}

func NewDocumentController(ingestionService service.IIngestionService) IDocumentController {
	return &documentController{
		ingestionService: ingestionService,
	}
}

func (c *documentController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/documents")
	h.Post("/pending/process", c.ProcessPending)
	h.Post("/:id/process", c.Process)
	h.Post("/:id/reindex", c.Reindex)
	h.Delete("/:id/index", c.Deindex)
}

func (c *documentController) Process(ctx *fiber.Ctx) error {
	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.ingestionService.Submit(ctx.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Document queued for processing", res))
}

func (c *documentController) Reindex(ctx *fiber.Ctx) error {
	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.ingestionService.Reindex(ctx.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Document queued for reindexing", res))
}

func (c *documentController) Deindex(ctx *fiber.Ctx) error {
	id, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.ingestionService.Deindex(ctx.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Document removed from index", res))
}

func (c *documentController) ProcessPending(ctx *fiber.Ctx) error {
	res, err := c.ingestionService.SubmitPending(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Pending documents queued", res))
}
