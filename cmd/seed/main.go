package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"boxoffice/internal/auth"
	"boxoffice/internal/events"
	"boxoffice/internal/seats"
	"boxoffice/internal/shared/config"
	"boxoffice/internal/shared/database"
	"boxoffice/internal/shared/database/schema"
	"boxoffice/internal/shared/middleware"
	"boxoffice/pkg/cache"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

type Seeder struct {
	db *database.DB
}

type seatPlan struct {
	section    string
	rows       []string
	perRow     int
	ticketType string
	// overrides the ticket type price when non-zero
	priceCents int64
	feesCents  int64
}

func main() {
	clean := flag.Bool("clean", true, "truncate all tables before seeding")
	flag.Parse()

	_ = godotenv.Load()
	fmt.Println("🌱 Starting Boxoffice Database Seeder...")

	cfg := config.Load()
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := schema.Migrate(db.GetPostgreSQL()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	seeder := &Seeder{db: db}
	ctx := context.Background()

	if *clean {
		fmt.Println("\n🧹 Cleaning database...")
		if err := seeder.CleanDatabase(ctx); err != nil {
			log.Fatalf("Failed to clean database: %v", err)
		}
		fmt.Println("✅ Database cleaned successfully")
	}

	fmt.Println("\n🌱 Seeding database...")
	event, err := seeder.SeedEvent(ctx)
	if err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}
	fmt.Printf("✅ Event %s (%s) seeded\n", event.Name, event.ID)

	if err := seeder.PrintDevTokens(cfg); err != nil {
		log.Fatalf("Failed to issue tokens: %v", err)
	}

	fmt.Println("\n🎉 Seeding completed! Database is ready for testing.")
}

// CleanDatabase truncates every table and drops cached reads.
func (s *Seeder) CleanDatabase(ctx context.Context) error {
	tables := []string{
		"tickets",
		"order_items",
		"orders",
		"payment_webhook_events",
		"payments",
		"reservation_items",
		"reservations",
		"event_seats",
		"ticket_types",
		"events",
		"outbox_events",
	}
	stmt := "TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE"
	if err := s.db.GetPostgreSQL().WithContext(ctx).Exec(stmt).Error; err != nil {
		return err
	}

	svc := cache.NewService(s.db.GetRedis(), nil)
	if err := svc.DeletePattern(ctx, cache.AllKeys()); err != nil {
		fmt.Printf("⚠️  Could not clear cache: %v\n", err)
	}
	return nil
}

// SeedEvent creates one published event with two price tiers and a seat map.
func (s *Seeder) SeedEvent(ctx context.Context) (*events.Event, error) {
	event := &events.Event{
		Name:     "Midnight Orchestra Live",
		Venue:    "Harbour Hall",
		Currency: "USD",
		Status:   events.StatusPublished,
		StartsAt: time.Now().Add(30 * 24 * time.Hour).Truncate(time.Hour),
		TicketTypes: []events.TicketType{
			{Name: "Standard", PriceCents: 4500},
			{Name: "VIP", PriceCents: 12000},
		},
	}

	plans := []seatPlan{
		{section: "A", rows: []string{"1", "2"}, perRow: 10, ticketType: "VIP", feesCents: 500},
		{section: "B", rows: []string{"1", "2", "3", "4"}, perRow: 12, ticketType: "Standard", feesCents: 250},
		{section: "BOX", rows: []string{"1"}, perRow: 4, ticketType: "VIP", priceCents: 25000, feesCents: 1000},
	}

	err := s.db.GetPostgreSQL().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := events.NewRepository(tx).Create(ctx, event); err != nil {
			return fmt.Errorf("create event: %w", err)
		}

		tiers := make(map[string]uuid.UUID, len(event.TicketTypes))
		for _, tt := range event.TicketTypes {
			tiers[tt.Name] = tt.ID
		}

		var rows []seats.Seat
		for _, plan := range plans {
			tierID := tiers[plan.ticketType]
			for _, row := range plan.rows {
				for n := 1; n <= plan.perRow; n++ {
					seat := seats.Seat{
						EventID:      event.ID,
						TicketTypeID: &tierID,
						Section:      plan.section,
						Row:          row,
						Number:       n,
						Status:       seats.StatusAvailable,
						FeesCents:    plan.feesCents,
					}
					if plan.priceCents > 0 {
						price := plan.priceCents
						seat.PriceCents = &price
					}
					rows = append(rows, seat)
				}
			}
		}
		if err := seats.NewRepository(tx).CreateSeats(ctx, rows); err != nil {
			return fmt.Errorf("create seats: %w", err)
		}
		fmt.Printf("   🎟️  %d seats across %d sections\n", len(rows), len(plans))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// PrintDevTokens issues access tokens for a demo buyer and an operator.
func (s *Seeder) PrintDevTokens(cfg *config.Config) error {
	issuer := auth.NewIssuer(cfg.JWT.Secret, 24*time.Hour)
	fmt.Println("\n🔑 Development tokens (24h):")
	for _, role := range []string{middleware.RoleUser, middleware.RoleAdmin} {
		userID := uuid.New()
		token, _, err := issuer.IssueAccessToken(userID, role)
		if err != nil {
			return err
		}
		fmt.Printf("   %-5s %s\n   Bearer %s\n", role, userID, token)
	}
	return nil
}
