package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"dm-service/config"
	"dm-service/model"
)

var Postgres *gorm.DB

func PostgresConnect() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		config.Config("POSTGRES_HOST"),
		config.Config("POSTGRES_PORT"),
		config.Config("POSTGRES_USER"),
		config.Config("POSTGRES_PASSWORD"),
		config.Config("POSTGRES_DB"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Duplicate key violations surface as gorm.ErrDuplicatedKey, which
		// conversation resolution relies on.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("connection opened to Postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info().Msg("Postgres database migrated")

	Postgres = db
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
