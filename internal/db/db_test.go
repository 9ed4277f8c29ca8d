package db_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capplan/internal/db"
)

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, db.Exists(dir))
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()
	assert.True(t, db.Exists(dir))
	assert.Equal(t, filepath.Join(dir, ".cplan", "cplan.db"), db.Path(dir))

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}
