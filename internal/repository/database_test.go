package repository

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// setupTestDB creates an in-memory SQLite database with all tables migrated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenSQLite(":memory:", logger.Nop())
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.AutoMigrate(), "Failed to auto-migrate tables")

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSQLiteMigrates(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.Health())
	for _, table := range []string{"user_reputations", "reputation_activities", "milestone_grants", "users", "posts"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}

	// RunMigrations falls back to AutoMigrate on SQLite and is idempotent.
	require.NoError(t, db.RunMigrations(logger.Nop()))
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	var buf bytes.Buffer
	db, err := OpenSQLite(":memory:", logger.NewWithWriter("warn", &buf))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AutoMigrate())

	rep, err := NewReputationRepository(db).Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.NotContains(t, buf.String(), "record not found")

	// Real query errors still reach the application logger.
	var n int
	assert.Error(t, db.Raw("SELECT count(*) FROM missing_table").Scan(&n).Error)
	assert.Contains(t, buf.String(), "missing_table")
	assert.Contains(t, buf.String(), `"component":"gorm"`)
}

func TestHealthReportsPingFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	db := Wrap(gdb)
	assert.Equal(t, "postgres", db.driver)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, db.Health())

	mock.ExpectPing()
	assert.NoError(t, db.Health())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	var ups, downs int
	for _, e := range entries {
		switch {
		case len(e.Name()) > 7 && e.Name()[len(e.Name())-7:] == ".up.sql":
			ups++
		case len(e.Name()) > 9 && e.Name()[len(e.Name())-9:] == ".down.sql":
			downs++
		}
	}
	assert.Equal(t, ups, downs, "every migration needs an up and a down file")
	assert.GreaterOrEqual(t, ups, 2)
}
