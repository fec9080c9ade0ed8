package syncprocessor

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// Runner is a background component with a start/stop lifecycle
type Runner interface {
	Start()
	Stop()
}

// Scheduler is the recurring job registry driven by the manager
type Scheduler interface {
	Runner
	Refresh(ctx context.Context) (int, error)
}

// Subscriber delivers configuration-changed signals
type Subscriber interface {
	SubscribeConfigChanged(ctx context.Context, fn func(ctx context.Context)) error
}

// Manager owns the worker pool, the scheduler and the refresh subscription
type Manager struct {
	queue     Runner
	scheduler Scheduler
	events    Subscriber

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewManager creates a manager. events may be nil for single process setups.
func NewManager(queue Runner, scheduler Scheduler, events Subscriber) *Manager {
	return &Manager{queue: queue, scheduler: scheduler, events: events}
}

// Start starts the workers, registers the schedules once and subscribes to config changes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	log.Info("[SyncManager] Starting sync workers and scheduler")

	m.queue.Start()

	if _, err := m.scheduler.Refresh(ctx); err != nil {
		// the next config change or an operator refresh retries
		log.Errorf("[SyncManager] Initial schedule refresh failed: %v", err)
	}
	m.scheduler.Start()

	subCtx, cancel := context.WithCancel(context.Background())
	if m.events != nil {
		if err := m.events.SubscribeConfigChanged(subCtx, m.onConfigChanged); err != nil {
			cancel()
			m.scheduler.Stop()
			m.queue.Stop()
			return err
		}
	}

	m.cancel = cancel
	m.running = true
	log.Info("[SyncManager] Started successfully")
	return nil
}

func (m *Manager) onConfigChanged(ctx context.Context) {
	if _, err := m.scheduler.Refresh(ctx); err != nil {
		log.Errorf("[SyncManager] Schedule refresh after config change failed: %v", err)
	}
}

// RefreshScheduler rebuilds the recurring schedules now
func (m *Manager) RefreshScheduler(ctx context.Context) (int, error) {
	return m.scheduler.Refresh(ctx)
}

// Stop stops in reverse order. Jobs already claimed by workers run to completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[SyncManager] Stopping...")

	m.cancel()
	m.scheduler.Stop()
	m.queue.Stop()

	m.cancel = nil
	m.running = false
	log.Info("[SyncManager] Stopped successfully")
}
