package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/models"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMessage(jobID string) models.QueueMessage {
	return models.QueueMessage{JobID: jobID, BundleID: "bun_1", ProfileID: "coffee", Type: models.DomainPrice}
}

func TestBadgerManagerReceiveInOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	q, err := NewBadgerManager(openTestDB(t), "test", time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testMessage("job_1")))
	time.Sleep(time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, testMessage("job_2")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msg, deleteFn, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", msg.JobID)
	require.NoError(t, deleteFn())
	require.NoError(t, deleteFn(), "delete is idempotent")

	msg, deleteFn, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_2", msg.JobID)
	require.NoError(t, deleteFn())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerManagerDelayedMessage(t *testing.T) {
	ctx := context.Background()
	q, err := NewBadgerManager(openTestDB(t), "delay", time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.EnqueueWithDelay(ctx, testMessage("job_later"), 100*time.Millisecond))

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(150 * time.Millisecond)
	msg, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_later", msg.JobID)
}

func TestBadgerManagerRedeliversAndDropsPoisonMessages(t *testing.T) {
	ctx := context.Background()
	q, err := NewBadgerManager(openTestDB(t), "redeliver", 20*time.Millisecond, 2, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, testMessage("job_crash")))

	// Never deleted: visible again after the visibility timeout
	for i := 0; i < 2; i++ {
		msg, _, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "job_crash", msg.JobID)

		_, _, err = q.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoMessage, "claimed message is hidden")

		time.Sleep(30 * time.Millisecond)
	}

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBadgerManagerRemovesOrphanedIndexEntries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	q, err := NewBadgerManager(db, "orphan", time.Minute, 3, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set(q.indexKey(time.Now().Add(-time.Second), "gone"), []byte{})
	}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueuesAreIsolatedByName(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	router, err := NewRouter(db, NewDefaultConfig(), arbor.NewLogger())
	require.NoError(t, err)

	job := &models.Job{ID: "job_news", BundleID: "bun_1", ProfileID: "coffee", Type: models.DomainNews}
	require.NoError(t, router.Dispatch(ctx, job, 0))

	price, ok := router.Queue(models.DomainPrice)
	require.True(t, ok)
	_, _, err = price.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	news, ok := router.Queue(models.DomainNews)
	require.True(t, ok)
	msg, _, err := news.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_news", msg.JobID)
	assert.Equal(t, models.DomainNews, msg.Type)

	depths := router.Depths(ctx)
	assert.Equal(t, 1, depths[models.DomainNews])
	assert.Equal(t, 0, depths[models.DomainEnsemble])

	assert.Error(t, router.Dispatch(ctx, &models.Job{ID: "x", Type: models.Domain("weather")}, 0))
}
