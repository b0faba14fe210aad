package jsonhistory_test

import (
	"testing"
	"time"

	"github.com/aviator-co/bifrost/internal/batch"
	"github.com/aviator-co/bifrost/internal/batch/jsonhistory"
	"github.com/stretchr/testify/require"
)

func TestJSONHistory(t *testing.T) {
	tempfile := t.TempDir() + "/state/history.json"

	db, err := jsonhistory.Open(tempfile)
	require.NoError(t, err, "db open should succeed if history file does not exist")
	require.Empty(t, db.All())

	completedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err = db.Append(batch.Batch{
		ID:       "b1",
		Branch:   "main",
		Message:  "Update docs",
		Status:   batch.StatusCommitted,
		CommitID: "abc123",
		Operations: []batch.Operation{
			{ID: "o1", Kind: batch.OperationCreate, Path: "docs/a.md", Content: "hello", Status: batch.OperationCommitted},
			{ID: "o2", Kind: batch.OperationDelete, Path: "docs/b.md", Status: batch.OperationCommitted},
		},
		CompletedAt: completedAt,
	})
	require.NoError(t, err, "append should succeed")
	err = db.Append(batch.Batch{ID: "b2", Status: batch.StatusRolledBack})
	require.NoError(t, err, "append should succeed")

	// Re-open the database and cause it to re-read from disk
	db, err = jsonhistory.Open(tempfile)
	require.NoError(t, err, "db open should succeed if history file exists")
	all := db.All()
	require.Len(t, all, 2, "history should survive re-open")
	require.Equal(t, "b1", all[0].ID)
	require.Equal(t, batch.StatusCommitted, all[0].Status)
	require.Equal(t, "abc123", all[0].CommitID)
	require.Equal(t, batch.OperationDelete, all[0].Operations[1].Kind)
	require.Equal(t, batch.OperationCommitted, all[0].Operations[1].Status)
	require.True(t, completedAt.Equal(all[0].CompletedAt))
	require.Equal(t, batch.StatusRolledBack, all[1].Status)
}

func TestJSONHistoryWithManager(t *testing.T) {
	db, err := jsonhistory.Open(t.TempDir() + "/history.json")
	require.NoError(t, err)

	m := batch.NewManager(nil, batch.WithHistory(db))
	b, err := m.CreateBatch("main", "abandoned")
	require.NoError(t, err)
	require.NoError(t, m.RollbackBatch(b.ID))

	completed := m.CompletedBatches()
	require.Len(t, completed, 1)
	require.Equal(t, b.ID, completed[0].ID)
	require.Equal(t, batch.StatusRolledBack, completed[0].Status)
	require.Len(t, db.All(), 1)
}
