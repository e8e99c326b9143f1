package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, ValidateDir("migrations"))
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"*_create_users.sql": {
			"CREATE TABLE IF NOT EXISTS users",
			"CONSTRAINT users_no_self_team_leader",
			"DROP TABLE IF EXISTS users",
		},
		"*_create_service_reports.sql": {
			"version bigint NOT NULL DEFAULT 1",
			"CONSTRAINT service_reports_rejection_remarks_check",
			"DROP TABLE IF EXISTS service_reports",
		},
		"*_create_audit_entries.sql": {
			"BEFORE UPDATE OR DELETE ON audit_entries",
			"RAISE EXCEPTION 'audit_entries is append-only'",
		},
		"*_create_notifications.sql": {
			"CREATE TABLE IF NOT EXISTS notification_retries",
			"CONSTRAINT notification_retries_recipient_key UNIQUE (recipient_id, notification_id)",
			"CREATE TABLE IF NOT EXISTS notification_dead_letters",
			"CONSTRAINT notification_dead_letters_notification_key UNIQUE (notification_id)",
		},
	}

	for pattern, checks := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		require.NoError(t, err)
		require.Len(t, matches, 1, "pattern %s", pattern)

		data, err := os.ReadFile(matches[0])
		require.NoError(t, err)
		for _, sub := range checks {
			assert.Contains(t, string(data), sub, "file %s", matches[0])
		}
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.Error(t, ValidateDir(dir), "empty dir should fail")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_missing_down.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o644))
	err = ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+goose Down")
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Report Tags!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_report_tags.sql"))
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "  !!  ")
	require.Error(t, err)
}
