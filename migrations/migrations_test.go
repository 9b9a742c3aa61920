package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitCreatesCalendarTables(t *testing.T) {
	data, err := fs.ReadFile(FS, "000001_init.up.sql")
	require.NoError(t, err)
	sql := string(data)

	for _, table := range []string{
		"users",
		"therapist_assignments",
		"therapist_calendar_slots",
		"scheduling_requests",
		"appointments",
		"calendar_notifications",
	} {
		assert.Contains(t, sql, "CREATE TABLE "+table+" (")
	}
	assert.Contains(t, sql, "UNIQUE (therapist_id, slot_date, start_time)")
}
