package syncprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	metrics "github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/metrics/counter"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/syncstrategy"
)

type fakeCompanies struct {
	companies map[string]*models.Company
	getErr    error
}

func (f *fakeCompanies) GetByID(ctx context.Context, id string) (*models.Company, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if c, ok := f.companies[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCompanies) ListIntegrationEnabled(ctx context.Context) ([]models.Company, error) {
	var out []models.Company
	for _, c := range f.companies {
		if c.HasActiveIntegration() {
			out = append(out, *c)
		}
	}
	return out, nil
}

type fakeStrategy struct {
	mu      sync.Mutex
	calls   []syncstrategy.Params
	result  *syncstrategy.Result
	err     error
	failFor string
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
}

func (f *fakeStrategy) Execute(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p syncstrategy.Params) (*syncstrategy.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()

	if companyID == f.failFor {
		return nil, errors.New("provider down")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &syncstrategy.Result{Success: true, Queued: 2}, nil
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeCounter) Add(ctx context.Context, outcome, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[outcome+"/"+companyID]++
	return nil
}

func activeCompany(id string) *models.Company {
	return &models.Company{ID: id, IntegrationConfig: models.IntegrationConfig{Provider: "jk", Enabled: true}}
}

func newTestProcessor() (*Processor, *fakeCompanies, *fakeStrategy, *fakeCounter) {
	companies := &fakeCompanies{companies: map[string]*models.Company{
		"c1":       activeCompany("c1"),
		"disabled": {ID: "disabled", IntegrationConfig: models.IntegrationConfig{Provider: "JK", Enabled: false}},
		"acme":     {ID: "acme", IntegrationConfig: models.IntegrationConfig{Provider: "ACME", Enabled: true}},
	}}
	strategy := &fakeStrategy{}
	registry := syncstrategy.NewRegistry(map[syncstrategy.Provider]syncstrategy.Strategy{syncstrategy.ProviderJK: strategy})
	counter := &fakeCounter{}
	return NewProcessor(companies, registry, counter), companies, strategy, counter
}

func TestCompanyBatchJob(t *testing.T) {
	p, _, strategy, counter := newTestProcessor()

	job := jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, "c1", jobqueue.SourceCron)
	job.SyncType = models.SyncTypeDeposit

	result, err := p.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, result.(*syncstrategy.Result).Queued)

	require.Len(t, strategy.calls, 1)
	assert.Equal(t, syncstrategy.Params{Type: models.SyncTypeDeposit, Batch: true, Source: jobqueue.SourceCron, JobID: job.ID}, strategy.calls[0])
	assert.Equal(t, 1, counter.counts["success/c1"])
}

func TestCompanyBatchDefaultsToMember(t *testing.T) {
	p, _, strategy, _ := newTestProcessor()

	_, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, "c1", jobqueue.SourceManual))
	require.NoError(t, err)
	assert.Equal(t, models.SyncTypeMember, strategy.calls[0].Type)
	assert.True(t, strategy.calls[0].Batch)
}

func TestEntityJobResolvesExternalUser(t *testing.T) {
	tests := []struct {
		name     string
		external string
		payload  map[string]interface{}
		expected string
	}{
		{"explicit", "u1", map[string]interface{}{"userId": "other"}, "u1"},
		{"userId", "", map[string]interface{}{"userId": "u2", "id": "x"}, "u2"},
		{"id", "", map[string]interface{}{"id": json.Number("3")}, "3"},
		{"user_id", "", map[string]interface{}{"user_id": "u4"}, "u4"},
		{"none", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, strategy, _ := newTestProcessor()
			job := jobqueue.NewJob(jobqueue.JobTypeMember, "c1", jobqueue.SourceWebhook)
			job.ExternalUserID = tt.external
			job.Payload = tt.payload

			_, err := p.Handle(context.Background(), job)
			require.NoError(t, err)
			require.Len(t, strategy.calls, 1)
			assert.Equal(t, tt.expected, strategy.calls[0].ExternalUserID)
			assert.Equal(t, "member", strategy.calls[0].Type)
			assert.False(t, strategy.calls[0].Batch)
		})
	}
}

func TestSkippedCompanies(t *testing.T) {
	for _, id := range []string{"missing", "disabled"} {
		t.Run(id, func(t *testing.T) {
			p, _, strategy, counter := newTestProcessor()

			result, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeMember, id, jobqueue.SourceCron))
			require.NoError(t, err)
			assert.True(t, result.(*syncstrategy.Result).Skipped)
			assert.Empty(t, strategy.calls)
			assert.Equal(t, 1, counter.counts["skipped/"+id])
		})
	}
}

func TestLookupErrorIsRetried(t *testing.T) {
	p, companies, _, counter := newTestProcessor()
	companies.getErr = errors.New("connection refused")

	_, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeMember, "c1", jobqueue.SourceCron))
	require.Error(t, err)
	assert.False(t, jobqueue.IsPermanent(err))
	assert.Equal(t, 1, counter.counts["failed/c1"])
}

func TestUnsupportedProviderIsPermanent(t *testing.T) {
	p, _, _, _ := newTestProcessor()

	_, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeMember, "acme", jobqueue.SourceCron))
	require.Error(t, err)
	assert.ErrorIs(t, err, syncstrategy.ErrUnsupportedProvider)
	assert.True(t, jobqueue.IsPermanent(err))
}

func TestDuplicateIsCounted(t *testing.T) {
	p, _, strategy, counter := newTestProcessor()
	strategy.result = &syncstrategy.Result{Success: true, Duplicate: true}

	_, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeDeposit, "c1", jobqueue.SourceWebhook))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.counts["duplicate/c1"])
}

func TestMasterTrigger(t *testing.T) {
	p, companies, strategy, _ := newTestProcessor()
	strategy.delay = 5 * time.Millisecond
	for i := 0; i < 65; i++ {
		id := fmt.Sprintf("bulk-%02d", i)
		c := activeCompany(id)
		if i%5 == 0 {
			c.IntegrationConfig.SyncConfigs = map[string]models.SyncTypeConfig{
				models.SyncTypeMember:  {Enabled: true},
				models.SyncTypeDeposit: {Enabled: true},
			}
		}
		companies.companies[id] = c
	}
	strategy.failFor = "bulk-07"

	raw, err := p.Handle(context.Background(), jobqueue.NewJob(jobqueue.JobTypeMasterTrigger, "", jobqueue.SourceManual))
	require.NoError(t, err)
	result := raw.(*MasterResult)

	// c1 plus 65 bulk companies; acme resolves to no strategy
	assert.Equal(t, 67, result.TotalCompanies)
	assert.Equal(t, 2, result.Failed)
	// 65 member batches (c1 and all bulk but bulk-07) and 13 deposit batches, 2 jobs each
	assert.Equal(t, (65+13)*2, result.TotalQueued)
	assert.LessOrEqual(t, strategy.peak.Load(), int32(MasterTriggerBatchSize))
	assert.Greater(t, strategy.peak.Load(), int32(1))
}

func TestProcessorOnRealQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	p, _, _, _ := newTestProcessor()
	counters := metrics.New(client)
	p.counter = counters

	q := jobqueue.NewQueue(client, jobqueue.Options{})
	q.Handle(p)

	ctx := context.Background()
	job := jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, "c1", jobqueue.SourceManual)
	job.SyncType = models.SyncTypeMember
	require.NoError(t, q.Enqueue(ctx, job))

	processed, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.JobStatusCompleted, stored.Status)
	assert.JSONEq(t, `{"success":true,"queued":2}`, string(stored.Result))

	snap, err := counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap[metrics.OutcomeSuccess]["c1"])
}
