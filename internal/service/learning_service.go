package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rrbip/batirama-connect-sub002/internal/dto"
	"github.com/rrbip/batirama-connect-sub002/internal/pkg/logger"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/specification"
	"github.com/rrbip/batirama-connect-sub002/internal/repository/unitofwork"
	"github.com/rrbip/batirama-connect-sub002/pkg/events"
	"github.com/rrbip/batirama-connect-sub002/pkg/learning"
)

var ErrInvalidLearnedId = errors.New("invalid learned response id")

type LearningStore interface {
	Learn(ctx context.Context, r learning.Response) (*learning.Response, error)
	Forget(ctx context.Context, id string) error
}

type ILearningService interface {
	Validate(ctx context.Context, req *dto.LearnResponseRequest) (*dto.LearnResponseResponse, error)
	Forget(ctx context.Context, id string) error
}

type learningService struct {
	uowFactory unitofwork.RepositoryFactory
	store      LearningStore
	webhooks   IWebhookService
	logger     logger.ILogger
}

func NewLearningService(uowFactory unitofwork.RepositoryFactory, store LearningStore, webhooks IWebhookService, log logger.ILogger) ILearningService {
	return &learningService{
		uowFactory: uowFactory,
		store:      store,
		webhooks:   webhooks,
		logger:     log,
	}
}

func (s *learningService) Validate(ctx context.Context, req *dto.LearnResponseRequest) (*dto.LearnResponseResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	agent, err := uow.AgentRepository().FindOne(ctx, specification.ByID{ID: req.AgentId})
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}

	learned, err := s.store.Learn(ctx, learning.Response{
		AgentID:     agent.Id.String(),
		Question:    req.Question,
		Answer:      req.Answer,
		MessageID:   req.MessageId,
		ValidatedBy: req.ValidatedBy,
		ValidatedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("learn response: %w", err)
	}

	if s.webhooks != nil {
		evt := events.New(events.ResponseLearned, map[string]interface{}{
			"id":           learned.ID,
			"agent_id":     learned.AgentID,
			"question":     learned.Question,
			"validated_by": learned.ValidatedBy,
		})
		if err := s.webhooks.Emit(ctx, evt); err != nil {
			s.logger.Warn("LEARNING", "Failed to emit event", map[string]interface{}{
				"event": evt.EventType(),
				"error": err.Error(),
			})
		}
	}

	return &dto.LearnResponseResponse{
		Id:          learned.ID,
		AgentId:     agent.Id,
		Question:    learned.Question,
		ValidatedAt: learned.ValidatedAt,
	}, nil
}

func (s *learningService) Forget(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidLearnedId
	}
	return s.store.Forget(ctx, id)
}
