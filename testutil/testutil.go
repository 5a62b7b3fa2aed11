// Package testutil provides an in-memory store and seed helpers for package
// tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"dm-service/database"
	"dm-service/model"
)

// DB opens a private in-memory sqlite database with the service schema.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes
	// statements; goroutines still interleave between statements.
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("%v", err)
	}
	return db
}

// SeedUser inserts a user with a fixed id.
func SeedUser(tb testing.TB, db *gorm.DB, id uint, username string) *model.User {
	tb.Helper()
	u := &model.User{
		Model:    gorm.Model{ID: id},
		Username: username,
		Email:    username + "@example.com",
		Password: "pw",
	}
	if err := db.WithContext(context.Background()).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}
