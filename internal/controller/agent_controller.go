package controller

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/serverutils"
	"github.com/rrbip/batirama-connect-sub002/internal/service"
)

type IAgentController interface {
	RegisterRoutes(r fiber.Router)
	Query(ctx *fiber.Ctx) error
	Learn(ctx *fiber.Ctx) error
	Forget(ctx *fiber.Ctx) error
}

type agentController struct {
	queryService    service.IQueryService
	learningService service.ILearningService
}

func NewAgentController(queryService service.IQueryService, learningService service.ILearningService) IAgentController {
	return &agentController{
		queryService:    queryService,
		learningService: learningService,
	}
}

func (c *agentController) RegisterRoutes(r fiber.Router) {
	agents := r.Group("/agents")
	agents.Post("/:id/query", c.Query)
	agents.Post("/:id/learned-responses", c.Learn)

	r.Delete("/learned-responses/:id", c.Forget)
}

func (c *agentController) Query(ctx *fiber.Ctx) error {
	agentId, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	var req dto.QueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.AgentId = agentId
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.queryService.Ask(ctx.UserContext(), &req)
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Query answered", res))
}

func (c *agentController) Learn(ctx *fiber.Ctx) error {
	agentId, err := paramUUID(ctx, "id")
	if err != nil {
		return err
	}

	var req dto.LearnResponseRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.AgentId = agentId
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.learningService.Validate(ctx.UserContext(), &req)
	if err != nil {
		return httpError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Response learned", res))
}

func (c *agentController) Forget(ctx *fiber.Ctx) error {
	if err := c.learningService.Forget(ctx.UserContext(), ctx.Params("id")); err != nil {
		return httpError(err)
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Learned response removed", nil))
}
