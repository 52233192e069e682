// Package schema owns the database layout. It lives apart from database so
// the connection and transaction helpers stay free of domain imports.
package schema

import (
	"fmt"

	"boxoffice/internal/events"
	"boxoffice/internal/outbox"
	"boxoffice/internal/payments"
	"boxoffice/internal/reservations"
	"boxoffice/internal/seats"
	"boxoffice/internal/tickets"

	"gorm.io/gorm"
)

// Models lists every table in dependency order.
func Models() []interface{} {
	return []interface{}{
		&events.Event{},
		&events.TicketType{},
		&seats.Seat{},
		&reservations.Reservation{},
		&reservations.ReservationItem{},
		&payments.Payment{},
		&payments.WebhookEvent{},
		&tickets.Order{},
		&tickets.OrderItem{},
		&tickets.Ticket{},
		&outbox.Event{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return MigrateConstraints(db)
}
