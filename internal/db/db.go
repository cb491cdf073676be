package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/model"
)

// Init opens the configured database and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", zap.String("driver", cfg.Driver))
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnableConstraints && cfg.Driver == "postgres" {
		log.Info("applying capacity constraints")
		if err := applyConstraintDDL(db); err != nil {
			log.Warn("failed to apply some constraint DDL, continuing without them", zap.Error(err))
		}
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.ParkingSpace{},
		&model.Booking{},
		&model.AvailabilitySlot{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// applyConstraintDDL backs the ledger's conditional updates with a
// database-level check so no code path can push a counter out of bounds.
func applyConstraintDDL(db *gorm.DB) error {
	ddls := []string{
		"ALTER TABLE parking_spaces DROP CONSTRAINT IF EXISTS parking_spaces_available_bounds;",
		"ALTER TABLE parking_spaces " +
			"ADD CONSTRAINT parking_spaces_available_bounds CHECK (available_spots >= 0 AND available_spots <= total_spots);",
		"CREATE INDEX IF NOT EXISTS idx_bookings_open_sessions ON bookings (session_end_at) " +
			"WHERE status IN ('confirmed', 'active');",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
