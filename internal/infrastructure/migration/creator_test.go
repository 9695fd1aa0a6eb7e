package migration

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add invoice index", "add_invoice_index"},
		{"Add-Invoice-Index", "add_invoice_index"},
		{"ADD_INVOICE_INDEX", "add_invoice_index"},
		{"add__invoice__index", "add_invoice_index"},
		{"Backfill 2026", "backfill_2026"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"_leading", "leading"},
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

	first, err := CreateMigration(dir, "add dispute index", "Index disputed invoices")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Equal(t, "000001_add_dispute_index", first.Base())
	assert.True(t, strings.HasSuffix(first.UpPath, "000001_add_dispute_index.up.sql"))
	assert.True(t, strings.HasSuffix(first.DownPath, "000001_add_dispute_index.down.sql"))

	content, err := os.ReadFile(first.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "-- Migration: add_dispute_index")
	assert.Contains(t, string(content), "Index disputed invoices")

	second, err := CreateMigration(dir, "drop legacy column", "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)
}

func TestCreateMigration_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")

	c, err := CreateMigration(dir, "init", "")
	require.NoError(t, err)
	assert.FileExists(t, c.UpPath)
	assert.FileExists(t, c.DownPath)
}

func TestCreateMigration_RejectsEmptyName(t *testing.T) {
	_, err := CreateMigration(t.TempDir(), "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_create_payments.up.sql":        {Data: []byte("")},
		"000002_create_payments.down.sql":      {Data: []byte("")},
		"000010_add_index.up.sql":              {Data: []byte("")},
		"000001_create_organizations.up.sql":   {Data: []byte("")},
		"000001_create_organizations.down.sql": {Data: []byte("")},
		"README.md":                            {Data: []byte("")},
		"notes.up.sql":                         {Data: []byte("")},
		"abc_bad_version.up.sql":               {Data: []byte("")},
		"archive/000003_old.up.sql":            {Data: []byte("")},
	}

	files, err := ListMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, File{Version: 1, Name: "create_organizations"}, files[0])
	assert.Equal(t, File{Version: 2, Name: "create_payments"}, files[1])
	assert.Equal(t, File{Version: 10, Name: "add_index"}, files[2])
}

func TestListMigrations_NonexistentDirectory(t *testing.T) {
	files, err := ListMigrations(os.DirFS(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestPendingAfter(t *testing.T) {
	files := []File{{1, "a"}, {2, "b"}, {3, "c"}}

	assert.Equal(t, []string{"000001_a", "000002_b", "000003_c"}, PendingAfter(files, 0))
	assert.Equal(t, []string{"000003_c"}, PendingAfter(files, 2))
	assert.Empty(t, PendingAfter(files, 3))
}

func TestEmbeddedMigrations(t *testing.T) {
	src := EmbeddedSource()

	files, err := ListMigrations(src.FS)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 4)
	assert.Equal(t, "create_organizations", files[0].Name)

	invoices, err := fsReadFile(src, "000003_create_invoices.up.sql")
	require.NoError(t, err)
	assert.Contains(t, invoices, "idx_invoices_active_payment")
	assert.Contains(t, invoices, "WHERE status <> 'cancelled'")

	for _, f := range files {
		_, err := fsReadFile(src, f.Base()+".down.sql")
		assert.NoError(t, err, "missing down migration for %s", f.Base())
	}
}

func fsReadFile(src Source, name string) (string, error) {
	b, err := fs.ReadFile(src.FS, name)
	return string(b), err
}
