// Package repotest opens throwaway sqlite-backed repositories for tests.
package repotest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"lensbook/database"
	bookingRepo "lensbook/database/repository/booking"
)

// New returns a migrated GormRepo on a private in-memory sqlite database.
func New(t testing.TB) *bookingRepo.GormRepo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.OpenGorm(database.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := bookingRepo.NewGormRepo(db)
	if err := repo.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repo
}
