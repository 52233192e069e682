package events

import (
	"context"
	"errors"
	"fmt"

	"boxoffice/internal/shared/apperr"
	"boxoffice/pkg/cache"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service interface {
	GetEvent(ctx context.Context, id string) (*EventResponse, error)
}

type service struct {
	repo         Repository
	cacheService cache.Service
}

// NewService creates the event read service. cacheService may be nil.
func NewService(repo Repository, cacheService cache.Service) Service {
	return &service{repo: repo, cacheService: cacheService}
}

func (s *service) GetEvent(ctx context.Context, id string) (*EventResponse, error) {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.Validation("invalid_event_id", "event id must be a UUID")
	}

	if s.cacheService == nil {
		return s.loadEvent(ctx, eventID)
	}

	var resp EventResponse
	err = s.cacheService.GetOrSet(ctx, cache.EventKey(eventID.String()), cache.TTLEventInfo, func() (interface{}, error) {
		return s.loadEvent(ctx, eventID)
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *service) loadEvent(ctx context.Context, eventID uuid.UUID) (*EventResponse, error) {
	event, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event_not_found", "event not found")
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	resp := event.ToResponse()
	return &resp, nil
}
