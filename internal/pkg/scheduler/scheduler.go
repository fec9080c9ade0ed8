package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
)

// RepeatKey holds the registered recurring entries, id -> Entry JSON.
const RepeatKey = "sync:repeat"

const fireTimeout = 10 * time.Second

// Entry is one recurring company batch sync
type Entry struct {
	ID           string    `json:"id"`
	Pattern      string    `json:"pattern"`
	CompanyID    string    `json:"companyId"`
	SyncType     string    `json:"syncType"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// EntryID is the stable id of the recurring entry of one company and sync type
func EntryID(syncType, companyID string) string {
	return fmt.Sprintf("sync_%s_%s", syncType, companyID)
}

// CompanyLister lists companies with an enabled integration
type CompanyLister interface {
	ListIntegrationEnabled(ctx context.Context) ([]models.Company, error)
}

// SettingReader reads global settings
type SettingReader interface {
	GetValue(key string) (string, error)
}

// Enqueuer accepts the batch jobs created when an entry fires
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) error
}

// Scheduler keeps one cron entry per company and enabled sync type.
// The registered set is mirrored to redis so every process can list it.
type Scheduler struct {
	client    *redis.Client
	companies CompanyLister
	settings  SettingReader
	queue     Enqueuer
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a scheduler. Patterns are standard five field cron expressions in UTC.
func New(client *redis.Client, companies CompanyLister, settings SettingReader, queue Enqueuer) *Scheduler {
	return &Scheduler{
		client:    client,
		companies: companies,
		settings:  settings,
		queue:     queue,
		now:       time.Now,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("[Scheduler] Started")
}

// Stop stops the cron loop and waits for running fires
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info("[Scheduler] Stopped")
}

// ValidatePattern reports whether pattern is a standard 5-field cron expression
func ValidatePattern(pattern string) error {
	_, err := cron.ParseStandard(pattern)
	return err
}

// GlobalPattern returns the configured default schedule, falling back to
// DefaultSyncCron when the setting is missing or not a valid expression.
func (s *Scheduler) GlobalPattern() string {
	value, err := s.settings.GetValue(models.SettingSyncHourlyCron)
	if err != nil {
		log.Warnf("[Scheduler] Failed to read %s, using default: %v", models.SettingSyncHourlyCron, err)
		return models.DefaultSyncCron
	}
	if value == "" {
		return models.DefaultSyncCron
	}
	if err := ValidatePattern(value); err != nil {
		log.Warnf("[Scheduler] Invalid %s %q, using default: %v", models.SettingSyncHourlyCron, value, err)
		return models.DefaultSyncCron
	}
	return value
}

// Refresh rebuilds all recurring entries from the current company configs.
// Concurrent calls are serialized. Returns the number of registered entries.
func (s *Scheduler) Refresh(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	global := s.GlobalPattern()
	companies, err := s.companies.ListIntegrationEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", err)
	}

	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	if err := s.client.Del(ctx, RepeatKey).Err(); err != nil {
		return 0, fmt.Errorf("clear %s: %w", RepeatKey, err)
	}

	registered := 0
	for i := range companies {
		company := &companies[i]
		for _, syncType := range models.SyncTypes {
			if !company.IntegrationConfig.IsSyncTypeEnabled(syncType) {
				continue
			}

			entry := Entry{
				ID:           EntryID(syncType, company.ID),
				Pattern:      company.IntegrationConfig.CronFor(syncType, global),
				CompanyID:    company.ID,
				SyncType:     syncType,
				RegisteredAt: s.now().UTC(),
			}
			if err := s.register(ctx, entry); err != nil {
				log.Errorf("[Scheduler] Skipping %s: %v", entry.ID, err)
				continue
			}
			registered++
		}
	}

	log.Infof("[Scheduler] Registered %d recurring entries for %d companies (default %q)", registered, len(companies), global)
	return registered, nil
}

func (s *Scheduler) register(ctx context.Context, entry Entry) error {
	schedule, err := cron.ParseStandard(entry.Pattern)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", entry.Pattern, err)
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, RepeatKey, entry.ID, body).Err(); err != nil {
		return err
	}

	s.entries[entry.ID] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		fireCtx, cancel := context.WithTimeout(context.Background(), fireTimeout)
		defer cancel()
		s.fire(fireCtx, entry)
	}))
	return nil
}

// fire enqueues the company batch job of entry. Processes firing the same
// entry in the same minute collapse into one job.
func (s *Scheduler) fire(ctx context.Context, entry Entry) {
	job := jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, entry.CompanyID, jobqueue.SourceCron)
	job.ID = jobqueue.RepeatJobID(entry.ID, s.now())
	job.SyncType = entry.SyncType

	err := s.queue.Enqueue(ctx, job)
	switch {
	case errors.Is(err, jobqueue.ErrDuplicateJob):
		log.Debugf("[Scheduler] %s already queued", job.ID)
	case err != nil:
		log.Errorf("[Scheduler] Failed to enqueue %s: %v", job.ID, err)
	default:
		log.Infof("[Scheduler] Queued %s %s batch for company %s", job.ID, entry.SyncType, entry.CompanyID)
	}
}

// ListEntries returns the registered entries sorted by id
func (s *Scheduler) ListEntries(ctx context.Context) ([]Entry, error) {
	return LoadEntries(ctx, s.client)
}

// LoadEntries reads the entries registered by any process
func LoadEntries(ctx context.Context, client *redis.Client) ([]Entry, error) {
	data, err := client.HGetAll(ctx, RepeatKey).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(data))
	for id, raw := range data {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warnf("[Scheduler] Ignoring malformed entry %s: %v", id, err)
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}
