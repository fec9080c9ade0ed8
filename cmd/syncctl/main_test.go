package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *jobqueue.Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	t.Setenv("CACHE_HOST", mr.Host())
	t.Setenv("CACHE_PORT", mr.Port())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, jobqueue.NewQueue(client, jobqueue.Options{})
}

func run(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestTriggerQueuesCompanyBatch(t *testing.T) {
	mr, queue := setupRedis(t)

	require.NoError(t, run(t, "trigger", "acme", "deposit"))

	pending, err := mr.List(jobqueue.PendingKey)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	job, err := queue.GetJob(context.Background(), pending[0])
	require.NoError(t, err)
	assert.Equal(t, jobqueue.JobTypeCompanyBatch, job.Type)
	assert.Equal(t, "acme", job.CompanyID)
	assert.Equal(t, "deposit", job.SyncType)
	assert.Equal(t, jobqueue.SourceManual, job.Source)
}

func TestTriggerRejectsUnsupportedType(t *testing.T) {
	mr, _ := setupRedis(t)

	assert.Error(t, run(t, "trigger", "acme", "withdraw"))
	assert.False(t, mr.Exists(jobqueue.PendingKey))
}

func TestMasterTrigger(t *testing.T) {
	mr, queue := setupRedis(t)

	require.NoError(t, run(t, "master-trigger"))

	pending, err := mr.List(jobqueue.PendingKey)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	job, err := queue.GetJob(context.Background(), pending[0])
	require.NoError(t, err)
	assert.Equal(t, jobqueue.JobTypeMasterTrigger, job.Type)
}

func TestRetryUnknownJob(t *testing.T) {
	setupRedis(t)

	err := run(t, "retry", "nope")
	assert.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestArgumentValidation(t *testing.T) {
	setupRedis(t)

	assert.Error(t, run(t, "retry"))
	assert.Error(t, run(t, "trigger", "acme"))
}
