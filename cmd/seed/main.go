package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const (
	doctorCount  = 40
	patientCount = 5000
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shift is one weekday working pattern handed out to seeded doctors.
type shift struct {
	start, end scheduling.ClockTime
	duration   int
	capacity   int
}

var shifts = []shift{
	{start: scheduling.NewClockTime(9, 0), end: scheduling.NewClockTime(17, 0), duration: 30, capacity: 1},
	{start: scheduling.NewClockTime(8, 0), end: scheduling.NewClockTime(12, 0), duration: 20, capacity: 1},
	{start: scheduling.NewClockTime(13, 0), end: scheduling.NewClockTime(19, 0), duration: 15, capacity: 2},
	{start: scheduling.NewClockTime(10, 0), end: scheduling.NewClockTime(16, 0), duration: 60, capacity: 4},
}

func main() {
	_ = godotenv.Load()
	log := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.DefaultPoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedDoctors(context.Background(), log, faker, pool, doctorCount)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedTemplates(context.Background(), log, faker, scheduling.NewPgRepository(pool), doctors); err != nil {
		log.Fatal().Err(err).Msg("seed templates")
	}
	if err := seedPatients(context.Background(), log, faker, pool, patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, log zerolog.Logger, faker *gofakeit.Faker, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + faker.Name()
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		// roughly one in ten doctors is on leave
		active := faker.Number(1, 10) > 1

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, full_name, specialty, active, created_at)
			VALUES ($1, $2, $3, $4, now())
		`, id, name, specialty, active)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("doctors seeded")
	return ids, nil
}

// seedTemplates gives every doctor one shift pattern on three to five weekdays.
func seedTemplates(ctx context.Context, log zerolog.Logger, faker *gofakeit.Faker, repo *scheduling.PgRepository, doctors []uuid.UUID) error {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	total := 0
	for _, doctorID := range doctors {
		sh := shifts[faker.Number(0, len(shifts)-1)]
		days := faker.Number(3, len(weekdays))
		faker.ShuffleAnySlice(weekdays)

		for _, day := range weekdays[:days] {
			t := scheduling.AvailabilityTemplate{
				DoctorID:            doctorID,
				DayOfWeek:           day,
				StartTime:           sh.start,
				EndTime:             sh.end,
				SlotDurationMinutes: sh.duration,
				CapacityPerSlot:     sh.capacity,
			}
			if err := t.Validate(); err != nil {
				return err
			}
			if _, err := repo.UpsertTemplate(ctx, t); err != nil {
				return err
			}
			total++
		}
	}

	log.Info().Int("templates", total).Msg("templates seeded")
	return nil
}

func seedPatients(ctx context.Context, log zerolog.Logger, faker *gofakeit.Faker, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, full_name, email, phone, created_at)
				VALUES ($1, $2, $3, $4, now())
			`, uuid.New(), faker.Name(), faker.Email(), faker.Phone())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
