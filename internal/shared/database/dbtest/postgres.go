// Package dbtest connects repository tests to the Postgres named by
// POSTGRES_URL. Tests that use it are skipped when the variable is unset.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"boxoffice/internal/events"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/database"
	"boxoffice/internal/shared/database/schema"
	"boxoffice/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// migrationLock serializes schema setup across test binaries sharing a database.
const migrationLock = 7_340_211

var (
	db        *gorm.DB
	dbErr     error
	getDbOnce sync.Once
)

// Open returns a migrated connection configured like the application's.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL is not set")
	}

	getDbOnce.Do(func() {
		db, dbErr = gorm.Open(postgres.Open(url), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			NowFunc:        func() time.Time { return time.Now().UTC() },
			PrepareStmt:    true,
			TranslateError: true,
		})
		if dbErr != nil {
			return
		}
		dbErr = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLock).Error; err != nil {
				return err
			}
			return schema.Migrate(tx)
		})
	})
	require.NoError(t, dbErr)
	return db
}

// Runner returns a TxRunner with short backoffs.
func Runner(db *gorm.DB) *database.TxRunner {
	return database.NewTxRunner(db, database.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}, logger.Discard())
}

// SeedSeat creates a published USD event with one ticket type priced
// priceCents and a single available seat carrying feesCents.
func SeedSeat(t testing.TB, db *gorm.DB, priceCents, feesCents int64) (*events.Event, *seats.Seat) {
	t.Helper()
	event := &events.Event{
		Name:     fmt.Sprintf("Test Event %s", uuid.NewString()[:8]),
		Venue:    "Test Hall",
		Currency: "USD",
		Status:   events.StatusPublished,
		StartsAt: time.Now().Add(24 * time.Hour).UTC(),
		TicketTypes: []events.TicketType{
			{Name: "Standard", PriceCents: priceCents},
		},
	}
	require.NoError(t, events.NewRepository(db).Create(context.Background(), event))

	tierID := event.TicketTypes[0].ID
	seat := seats.Seat{
		EventID:      event.ID,
		TicketTypeID: &tierID,
		Section:      "T",
		Row:          "1",
		Number:       1,
		Status:       seats.StatusAvailable,
		FeesCents:    feesCents,
	}
	require.NoError(t, seats.NewRepository(db).CreateSeats(context.Background(), []seats.Seat{seat}))

	var stored seats.Seat
	require.NoError(t, db.First(&stored, "event_id = ?", event.ID).Error)
	return event, &stored
}
