package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis keys
	JobKeyPrefix  = "sync:job:"
	PendingKey    = "sync:pending"
	ProcessingKey = "sync:processing"
	DelayedKey    = "sync:delayed"
	DeadLetterKey = "sync:dead"
	StatsKey      = "sync:stats"

	// Job settings
	DefaultWorkers      = 10
	DefaultMaxAttempts  = 5
	DefaultBackoffDelay = 2 * time.Second
	DefaultCompletedTTL = 10 * time.Minute
	DeadLetterTTL       = 7 * 24 * time.Hour
	JobTTL              = 24 * time.Hour // pending/retrying records expire after 24 hours
)

// Handler executes one job. The returned value is stored as the job result.
type Handler interface {
	Handle(ctx context.Context, job *Job) (interface{}, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *Job) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, job *Job) (interface{}, error) {
	return f(ctx, job)
}

// Options configures a Queue. Zero values fall back to the defaults above.
type Options struct {
	Workers         int
	MaxAttempts     int
	BackoffDelay    time.Duration
	CompletedTTL    time.Duration
	PollTimeout     time.Duration
	PromoteInterval time.Duration
	StuckAfter      time.Duration
	SweepInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = DefaultBackoffDelay
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = DefaultCompletedTTL
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
	if o.StuckAfter <= 0 {
		o.StuckAfter = 10 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// enqueueScript stores the record only if the id is unused, then pushes it to pending.
var enqueueScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  redis.call('LPUSH', KEYS[2], ARGV[3])
  redis.call('HINCRBY', KEYS[3], 'enqueued', 1)
  return 1
end
return 0
`)

// Queue is a durable job queue on Redis with a fixed worker pool
type Queue struct {
	client  *redis.Client
	opts    Options
	handler Handler
	now     func() time.Time

	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, opts Options) *Queue {
	return &Queue{
		client: client,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

// Handle sets the handler invoked for every job. It must be set before Start.
func (q *Queue) Handle(h Handler) {
	q.handler = h
}

// Client exposes the underlying redis client
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Start starts the workers, the delayed-job promoter and the stuck sweeper
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	log.Infof("[JobQueue] Starting %d workers", q.opts.Workers)

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(1)
	go q.promoter(ctx)

	// recovers jobs left in processing by a crashed process
	q.wg.Add(1)
	go q.stuckSweeper(ctx)
}

// Stop stops the workers. Jobs already running finish first.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.cancel()
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// worker processes jobs from the queue
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	log.Debugf("[JobQueue] Worker %d started", id)

	for {
		select {
		case <-q.stopCh:
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		jobID, err := q.client.BRPopLPush(ctx, PendingKey, ProcessingKey, q.opts.PollTimeout).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}

		// a claimed job runs to completion even when Stop is called meanwhile
		q.run(context.WithoutCancel(ctx), jobID)
	}
}

// ProcessNext claims and runs one pending job without blocking.
// It reports false when the pending list is empty.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	jobID, err := q.client.RPopLPush(ctx, PendingKey, ProcessingKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	q.run(ctx, jobID)
	return true, nil
}

func (q *Queue) run(ctx context.Context, jobID string) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		// record expired or is unreadable: nothing left to run
		log.Errorf("[JobQueue] Dropping job %s from processing: %v", jobID, err)
		q.removeFromProcessing(ctx, jobID)
		return
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}

	job.MarkAsProcessing(q.now())
	q.updateJob(ctx, job, JobTTL)
	log.Debugf("[JobQueue] Processing job %s (Type: %s, company: %s, attempt %d/%d)", job.ID, job.Type, job.CompanyID, job.Attempts, job.MaxAttempts)

	result, err := q.invoke(ctx, job)
	if err != nil {
		q.fail(ctx, job, err)
		return
	}
	q.complete(ctx, job, result)
}

func (q *Queue) invoke(ctx context.Context, job *Job) (result interface{}, err error) {
	if q.handler == nil {
		return nil, Permanent(errors.New("no job handler registered"))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return q.handler.Handle(ctx, job)
}

func (q *Queue) complete(ctx context.Context, job *Job, result interface{}) {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			log.Warnf("[JobQueue] Failed to marshal result of job %s: %v", job.ID, err)
		} else {
			raw = b
		}
	}
	job.MarkAsCompleted(q.now(), raw)

	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		q.removeFromProcessing(ctx, job.ID)
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, q.opts.CompletedTTL)
	pipe.LRem(ctx, ProcessingKey, 1, job.ID)
	pipe.HIncrBy(ctx, StatsKey, string(JobStatusCompleted), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to complete job %s: %v", job.ID, err)
		return
	}
	log.Infof("[JobQueue] Job %s completed", job.ID)
}

func (q *Queue) fail(ctx context.Context, job *Job, cause error) {
	now := q.now()

	if IsPermanent(cause) || !job.IsRetryable() {
		job.MarkAsDead(now, cause.Error())
		data, err := json.Marshal(job)
		if err != nil {
			log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
			return
		}
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, JobKeyPrefix+job.ID, data, DeadLetterTTL)
		pipe.LRem(ctx, ProcessingKey, 1, job.ID)
		pipe.LPush(ctx, DeadLetterKey, job.ID)
		pipe.HIncrBy(ctx, StatsKey, string(JobStatusDead), 1)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Errorf("[JobQueue] Failed to dead-letter job %s: %v", job.ID, err)
			return
		}
		log.Errorf("[JobQueue] Job %s dead-lettered after %d attempt(s): %v", job.ID, job.Attempts, cause)
		return
	}

	if job.Backoff.Delay <= 0 {
		job.Backoff = Backoff{Type: BackoffExponential, Delay: q.opts.BackoffDelay.Milliseconds()}
	}
	delay := job.RetryDelay()
	job.MarkAsRetrying(now, cause.Error())
	data, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LRem(ctx, ProcessingKey, 1, job.ID)
	pipe.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
	pipe.HIncrBy(ctx, StatsKey, string(JobStatusRetrying), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[JobQueue] Failed to schedule retry of job %s: %v", job.ID, err)
		return
	}
	log.Warnf("[JobQueue] Job %s failed (attempt %d/%d), retrying in %s: %v", job.ID, job.Attempts, job.MaxAttempts, delay, cause)
}

// Enqueue stores the job and pushes it to the pending list. A job whose id is
// already stored is not added again and ErrDuplicateJob is returned.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	keys, args, err := q.enqueueArgs(job)
	if err != nil {
		return err
	}
	added, err := enqueueScript.Run(ctx, q.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	if added == 0 {
		return ErrDuplicateJob
	}
	log.Debugf("[JobQueue] Enqueued job %s (Type: %s, company: %s)", job.ID, job.Type, job.CompanyID)
	return nil
}

// EnqueueBulk enqueues jobs in one round trip and returns how many were new.
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []*Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.Cmd, 0, len(jobs))
	for _, job := range jobs {
		keys, args, err := q.enqueueArgs(job)
		if err != nil {
			return 0, err
		}
		cmds = append(cmds, enqueueScript.Eval(ctx, pipe, keys, args...))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to enqueue %d jobs: %w", len(jobs), err)
	}

	added := 0
	for _, cmd := range cmds {
		if n, err := cmd.Int(); err == nil && n == 1 {
			added++
		}
	}
	return added, nil
}

func (q *Queue) enqueueArgs(job *Job) ([]string, []interface{}, error) {
	if job.ID == "" {
		return nil, nil, errors.New("job id is required")
	}
	now := q.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Timestamp == 0 {
		job.Timestamp = now.UnixMilli()
	}
	job.UpdatedAt = now
	job.Status = JobStatusPending
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	if job.Backoff.Delay <= 0 {
		job.Backoff = Backoff{Type: BackoffExponential, Delay: q.opts.BackoffDelay.Milliseconds()}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	keys := []string{JobKeyPrefix + job.ID, PendingKey, StatsKey}
	args := []interface{}{data, JobTTL.Milliseconds(), job.ID}
	return keys, args, nil
}

// promoter moves due retries from the delayed set back to pending
func (q *Queue) promoter(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(ctx, q.now()); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] Promote error: %v", err)
			}
		}
	}
}

// PromoteDue moves every delayed job whose retry time is not after now to pending.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, DelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		// ZREM decides which process owns the promotion
		removed, err := q.client.ZRem(ctx, DelayedKey, id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if job, err := q.GetJob(ctx, id); err == nil {
			job.Status = JobStatusPending
			job.UpdatedAt = now
			q.updateJob(ctx, job, JobTTL)
		}
		if err := q.client.LPush(ctx, PendingKey, id).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to promote job %s: %v", id, err)
			continue
		}
		promoted++
	}
	return promoted, nil
}

// stuckSweeper periodically requeues jobs stuck in processing for longer than StuckAfter
func (q *Queue) stuckSweeper(ctx context.Context) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", q.opts.StuckAfter, q.opts.SweepInterval)
	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			q.recoverStuck(ctx, q.opts.StuckAfter)
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration) int {
	ids, err := q.client.LRange(ctx, ProcessingKey, 0, -1).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Errorf("[JobQueue] Sweeper LRange error: %v", err)
		}
		return 0
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			// Job data missing; remove from processing list
			if !errors.Is(err, ErrJobNotFound) {
				log.Errorf("[JobQueue] Sweeper read error for %s: %v", id, err)
			}
			q.removeFromProcessing(ctx, id)
			continue
		}
		if job.Status != JobStatusProcessing {
			// Clean up stray entry
			q.removeFromProcessing(ctx, id)
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) <= maxAge {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered by sweeper"
		job.UpdatedAt = now
		q.updateJob(ctx, job, JobTTL)
		// Move from processing back to the front of pending
		q.removeFromProcessing(ctx, id)
		if err := q.client.RPush(ctx, PendingKey, id).Err(); err != nil {
			log.Errorf("[JobQueue] Failed to requeue job %s: %v", id, err)
			continue
		}
		recovered++
	}
	return recovered
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job, ttl time.Duration) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, ttl).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, ProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	// keep payload numbers (provider ids) exact
	var job Job
	dec := json.NewDecoder(strings.NewReader(jobData))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// ListDeadLetters returns dead-lettered jobs, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context, offset, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.LRange(ctx, DeadLetterKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// expired record
			_ = q.client.LRem(ctx, DeadLetterKey, 0, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryDeadLetter resets the attempts of a dead-lettered job and queues it again.
func (q *Queue) RetryDeadLetter(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusDead {
		return nil, ErrNotDeadLettered
	}

	job.Status = JobStatusPending
	job.Attempts = 0
	job.ErrorMsg = ""
	job.UpdatedAt = q.now()
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, JobTTL)
	pipe.LRem(ctx, DeadLetterKey, 0, job.ID)
	pipe.LPush(ctx, PendingKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	log.Infof("[JobQueue] Dead-lettered job %s requeued", job.ID)
	return job, nil
}

// DeleteDeadLetter removes a dead-lettered job and its record.
func (q *Queue) DeleteDeadLetter(ctx context.Context, jobID string) error {
	removed, err := q.client.LRem(ctx, DeadLetterKey, 0, jobID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrJobNotFound
	}
	return q.client.Del(ctx, JobKeyPrefix+jobID).Err()
}

// Stats is a snapshot of the queue sizes and lifetime counters
type Stats struct {
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Delayed    int64            `json:"delayed"`
	Dead       int64            `json:"dead"`
	Counters   map[string]int64 `json:"counters"`
}

// Stats returns the current queue sizes and counters
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, PendingKey)
	processing := pipe.LLen(ctx, ProcessingKey)
	delayed := pipe.ZCard(ctx, DelayedKey)
	dead := pipe.LLen(ctx, DeadLetterKey)
	counters := pipe.HGetAll(ctx, StatsKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	stats := &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
		Counters:   make(map[string]int64),
	}
	for name, raw := range counters.Val() {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stats.Counters[name] = n
		}
	}
	return stats, nil
}
