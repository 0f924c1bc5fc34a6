package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestTaskEvents(t *testing.T) {
	j := openTestJournal(t)

	j.RecordTaskEvent("t1", "create", "admitted")
	j.RecordTaskEvent("t1", "status", "SUCCEEDED")
	j.RecordTaskEvent("t2", "create", "admitted")

	events, err := j.RecentTaskEvents("t1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, "status", events[0].Event)
	assert.Equal(t, "SUCCEEDED", events[0].Detail)
	assert.Equal(t, "create", events[1].Event)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestRecentTaskEventsLimit(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 5; i++ {
		j.RecordTaskEvent("t1", "status", "RUNNING")
	}

	events, err := j.RecentTaskEvents("t1", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestRecentTaskEventsEmpty(t *testing.T) {
	j := openTestJournal(t)
	events, err := j.RecentTaskEvents("nope", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordReport(t *testing.T) {
	j := openTestJournal(t)

	j.RecordReport("instance", true)
	j.RecordReport("task", false)

	var count int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM report_events").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRecordAfterCloseDoesNotPanic(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Best effort writes swallow errors.
	j.RecordTaskEvent("t1", "create", "")
	j.RecordReport("task", true)
}
