package persistence

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../../migrations/postgres"

func TestRunMigrations_InputValidation(t *testing.T) {
	t.Run("EmptyMigrationsPath", func(t *testing.T) {
		err := RunMigrations("postgres://escrow@localhost/escrow", "")
		assert.EqualError(t, err, "migrations path cannot be empty")
	})

	t.Run("EmptyDatabaseURL", func(t *testing.T) {
		err := RunMigrations("", migrationsDir)
		assert.EqualError(t, err, "database URL cannot be empty")
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		err := RunMigrations("postgres://localhost:1/none?sslmode=disable", "does/not/exist")
		assert.ErrorContains(t, err, "failed to create migrate instance")
	})
}

// readMigrations walks the directory with the same source driver RunMigrations uses.
func readMigrations(t *testing.T) map[uint]map[source.Direction]string {
	t.Helper()
	abs, err := filepath.Abs(migrationsDir)
	require.NoError(t, err)

	driver, err := (&file.File{}).Open("file://" + abs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	out := map[uint]map[source.Direction]string{}
	version, err := driver.First()
	for err == nil {
		out[version] = map[source.Direction]string{
			source.Up:   readBody(t, driver.ReadUp, version),
			source.Down: readBody(t, driver.ReadDown, version),
		}
		version, err = driver.Next(version)
	}
	require.True(t, errors.Is(err, os.ErrNotExist), "unexpected error walking migrations: %v", err)
	return out
}

func readBody(t *testing.T, read func(uint) (io.ReadCloser, string, error), version uint) string {
	t.Helper()
	r, _, err := read(version)
	require.NoError(t, err, "version %d", version)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestMigrations_Layout(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	for _, e := range entries {
		m, err := source.Parse(e.Name())
		require.NoError(t, err, "%s does not follow the version_name.direction.sql pattern", e.Name())
		assert.NotEmpty(t, m.Identifier)
	}

	migrations := readMigrations(t)
	require.Len(t, migrations, 4)
	for v := uint(1); v <= 4; v++ {
		bodies, ok := migrations[v]
		require.True(t, ok, "version %d is missing", v)
		assert.NotEmpty(t, bodies[source.Up], "version %d has no up migration", v)
		assert.NotEmpty(t, bodies[source.Down], "version %d has no down migration", v)
	}
}

func TestMigrations_Schema(t *testing.T) {
	migrations := readMigrations(t)

	testCases := []struct {
		name    string
		version uint
		up      []string
		down    []string
	}{
		{
			name:    "bounties",
			version: 1,
			up:      []string{"CREATE TABLE IF NOT EXISTS bounties", "idx_bounties_poster"},
			down:    []string{"bounties"},
		},
		{
			name:    "wallet ledger",
			version: 2,
			up: []string{
				"CREATE TABLE IF NOT EXISTS wallet_transactions",
				"CREATE TABLE IF NOT EXISTS wallet_balances",
				"ux_wallet_tx_active_escrow",
				"ux_wallet_tx_release",
				"ux_wallet_tx_refund",
				"trg_wallet_transactions_immutable",
			},
			down: []string{"wallet_transactions", "wallet_balances"},
		},
		{
			name:    "idempotency keys",
			version: 3,
			up:      []string{"CREATE TABLE IF NOT EXISTS idempotency_keys", "idx_idempotency_keys_expires"},
			down:    []string{"idempotency_keys"},
		},
		{
			name:    "outbox",
			version: 4,
			up:      []string{"CREATE TABLE IF NOT EXISTS outbox_events", "idx_outbox_events_pending", "idx_outbox_events_aggregate_pending"},
			down:    []string{"outbox_events"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bodies := migrations[tc.version]
			for _, want := range tc.up {
				assert.Contains(t, bodies[source.Up], want)
			}
			assert.Contains(t, bodies[source.Down], "DROP")
			for _, want := range tc.down {
				assert.Contains(t, bodies[source.Down], want)
			}
		})
	}
}
