package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/lmssync/migrations"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add grade items", "add_grade_items"},
		{"Add-Grade-Items", "add_grade_items"},
		{"ADD__GRADE__ITEMS", "add_grade_items"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"_leading_and_trailing_", "leading_and_trailing"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	mf, err := CreateMigration(dir, "add grade items", "Store per-item grades")
	require.NoError(t, err)
	assert.Len(t, mf.Version, 14)

	upBase := strings.TrimSuffix(filepath.Base(mf.UpPath), upSuffix)
	downBase := strings.TrimSuffix(filepath.Base(mf.DownPath), downSuffix)
	assert.Equal(t, upBase, downBase)
	assert.Equal(t, mf.Version+"_add_grade_items", upBase)

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "-- Migration: add_grade_items\n")
	assert.Contains(t, string(up), "-- Description: Store per-item grades")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "(Rollback)")

	names, err := ListMigrations(os.DirFS(dir))
	require.NoError(t, err)
	assert.Equal(t, []string{upBase}, names)

	_, err = CreateMigration(dir, "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations_MissingDirectory(t *testing.T) {
	names, err := ListMigrations(os.DirFS(filepath.Join(t.TempDir(), "absent")))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCheckPairs(t *testing.T) {
	fsys := fstest.MapFS{
		"1_a.up.sql":   {},
		"1_a.down.sql": {},
		"2_b.up.sql":   {},
		"README.md":    {},
	}
	err := CheckPairs(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2_b")
}

func TestEmbeddedSchemaIsComplete(t *testing.T) {
	require.NoError(t, CheckPairs(migrations.FS))

	names, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.True(t, strings.HasSuffix(names[0], "_create_sis_tables"), "sis tables are created first")
}
