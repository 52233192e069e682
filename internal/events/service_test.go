package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boxoffice/internal/shared/apperr"
	"boxoffice/pkg/cache"
	"boxoffice/pkg/cache/cachetest"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepo struct {
	events map[uuid.UUID]*Event
	reads  int
}

func (f *fakeRepo) Create(_ context.Context, event *Event) error {
	f.events[event.ID] = event
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Event, error) {
	f.reads++
	event, ok := f.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return event, nil
}

func seededRepo() (*fakeRepo, *Event) {
	event := &Event{
		ID:       uuid.New(),
		Name:     "Closing Night",
		Currency: "EUR",
		Status:   StatusPublished,
		StartsAt: time.Date(2026, 12, 31, 20, 0, 0, 0, time.UTC),
	}
	event.TicketTypes = []TicketType{{ID: uuid.New(), EventID: event.ID, Name: "Stalls", PriceCents: 4500}}
	return &fakeRepo{events: map[uuid.UUID]*Event{event.ID: event}}, event
}

func TestGetEventCachesResponse(t *testing.T) {
	repo, event := seededRepo()
	mem := cachetest.NewMemory()
	svc := NewService(repo, mem)

	first, err := svc.GetEvent(context.Background(), event.ID.String())
	require.NoError(t, err)
	second, err := svc.GetEvent(context.Background(), event.ID.String())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.reads)
	assert.True(t, mem.Has(cache.EventKey(event.ID.String())))
	assert.Equal(t, "EUR", second.Currency)
	require.Len(t, second.TicketTypes, 1)
	assert.Equal(t, int64(4500), second.TicketTypes[0].PriceCents)
}

func TestGetEventErrors(t *testing.T) {
	repo, _ := seededRepo()
	svc := NewService(repo, nil)

	_, err := svc.GetEvent(context.Background(), "not-a-uuid")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.GetEvent(context.Background(), uuid.NewString())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestControllerGetEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo, event := seededRepo()

	engine := gin.New()
	SetupEventRoutes(engine.Group("/api/v1"), NewController(NewService(repo, nil)))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/"+event.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data EventResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, event.ID.String(), body.Data.ID)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
