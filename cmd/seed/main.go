package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/auth"
	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/config"
	"github.com/dan22333/theravillage/internal/db"
	"github.com/dan22333/theravillage/internal/logging"
)

const (
	therapistCount      = 20
	clientsPerTherapist = 15
	openingHour         = 9
	closingHour         = 17
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	monday := calendar.MondayOf(calendar.DateOf(time.Now().In(cfg.Location()))).AddDays(7)

	for i := 0; i < therapistCount; i++ {
		therapist, clients, err := seedPractice(ctx, pool, faker, monday)
		if err != nil {
			logger.Fatal("seed practice", zap.Int("index", i), zap.Error(err))
		}
		logger.Info("practice seeded",
			zap.String("therapist_id", therapist.String()),
			zap.Int("clients", len(clients)),
			zap.String("week", monday.String()),
		)

		if i == 0 && cfg.JWTSecret != "" {
			printTokens(cfg.JWTSecret, therapist, clients[0], logger)
		}
	}

	logger.Info("seed complete")
}

// seedPractice inserts one therapist, their assigned clients and a week of
// weekday availability in a single transaction.
func seedPractice(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, monday calendar.Date) (uuid.UUID, []uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	therapist := uuid.New()
	if err := insertUser(ctx, tx, therapist, faker.Name(), faker.Email(), auth.RoleTherapist); err != nil {
		return uuid.Nil, nil, fmt.Errorf("insert therapist: %w", err)
	}

	clients := make([]uuid.UUID, clientsPerTherapist)
	for i := range clients {
		clients[i] = uuid.New()
		if err := insertUser(ctx, tx, clients[i], faker.Name(), faker.Email(), auth.RoleClient); err != nil {
			return uuid.Nil, nil, fmt.Errorf("insert client: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO therapist_assignments (therapist_id, client_id, status)
			VALUES ($1, $2, 'active')
		`, therapist, clients[i])
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("insert assignment: %w", err)
		}
	}

	rows := make([][]any, 0, 5*(closingHour-openingHour)*4)
	for day := 0; day < 5; day++ {
		date := monday.AddDays(day)
		// Leave a random free hour each day.
		skip := faker.Number(openingHour, closingHour-1)
		for hour := openingHour; hour < closingHour; hour++ {
			if hour == skip {
				continue
			}
			for minute := 0; minute < 60; minute += calendar.SlotMinutes {
				start := calendar.NewClock(hour, minute)
				rows = append(rows, []any{
					therapist, date.String(), start.String(), start.SlotEnd().String(), string(calendar.SlotAvailable),
				})
			}
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"therapist_calendar_slots"},
		[]string{"therapist_id", "slot_date", "start_time", "end_time", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("copy slots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, err
	}
	return therapist, clients, nil
}

func insertUser(ctx context.Context, tx pgx.Tx, id uuid.UUID, name, email, role string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, name, email, role)
	return err
}

func printTokens(secret string, therapist, client uuid.UUID, logger *zap.Logger) {
	therapistToken, err := auth.IssueToken(secret, therapist, auth.RoleTherapist, 24*time.Hour)
	if err != nil {
		logger.Warn("issue therapist token", zap.Error(err))
		return
	}
	clientToken, err := auth.IssueToken(secret, client, auth.RoleClient, 24*time.Hour)
	if err != nil {
		logger.Warn("issue client token", zap.Error(err))
		return
	}
	fmt.Printf("SIM_THERAPIST_TOKEN=%s\nSIM_CLIENT_TOKEN=%s\nSIM_THERAPIST_ID=%s\nSIM_CLIENT_ID=%s\n",
		therapistToken, clientToken, therapist, client)
}
