package schema

import (
	"fmt"

	"gorm.io/gorm"
)

type constraint struct {
	name string
	sql  string
}

// constraints that gorm tags cannot express. Every statement is idempotent.
var constraints = []constraint{
	{
		name: "event seat hold requires expiry",
		sql: `DO $$ BEGIN
			ALTER TABLE event_seats ADD CONSTRAINT chk_event_seats_reserved_until
			CHECK (status <> 'RESERVED' OR reserved_until IS NOT NULL);
		EXCEPTION WHEN duplicate_object THEN NULL; END $$;`,
	},
	{
		name: "event seat status",
		sql: `DO $$ BEGIN
			ALTER TABLE event_seats ADD CONSTRAINT chk_event_seats_status
			CHECK (status IN ('AVAILABLE','RESERVED','SOLD','BLOCKED'));
		EXCEPTION WHEN duplicate_object THEN NULL; END $$;`,
	},
	{
		name: "reservation status",
		sql: `DO $$ BEGIN
			ALTER TABLE reservations ADD CONSTRAINT chk_reservations_status
			CHECK (status IN ('ACTIVE','CONFIRMED','EXPIRED'));
		EXCEPTION WHEN duplicate_object THEN NULL; END $$;`,
	},
	{
		name: "payment status",
		sql: `DO $$ BEGIN
			ALTER TABLE payments ADD CONSTRAINT chk_payments_status
			CHECK (status IN ('PENDING','SUCCEEDED','FAILED'));
		EXCEPTION WHEN duplicate_object THEN NULL; END $$;`,
	},
	{
		name: "active reservation sweep index",
		sql: `CREATE INDEX IF NOT EXISTS idx_reservations_active_expires
			ON reservations (expires_at) WHERE status = 'ACTIVE';`,
	},
	{
		name: "pending outbox claim index",
		sql: `CREATE INDEX IF NOT EXISTS idx_outbox_pending_available
			ON outbox_events (available_at, created_at) WHERE status = 'PENDING';`,
	},
}

// MigrateConstraints adds the checks and partial indexes the engines rely on.
func MigrateConstraints(db *gorm.DB) error {
	for _, c := range constraints {
		if err := db.Exec(c.sql).Error; err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
