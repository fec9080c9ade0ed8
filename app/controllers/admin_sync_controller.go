package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/app/repository"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/scheduler"
)

// SchedulerRefresher rebuilds the recurring schedules
type SchedulerRefresher interface {
	RefreshScheduler(ctx context.Context) (int, error)
}

// QueueOperator is the part of the job queue the operator surface uses
type QueueOperator interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) error
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
	Stats(ctx context.Context) (*jobqueue.Stats, error)
	ListDeadLetters(ctx context.Context, offset, limit int64) ([]*jobqueue.Job, error)
	RetryDeadLetter(ctx context.Context, jobID string) (*jobqueue.Job, error)
	DeleteDeadLetter(ctx context.Context, jobID string) error
}

// ScheduleLister lists registered recurring entries
type ScheduleLister interface {
	ListEntries(ctx context.Context) ([]scheduler.Entry, error)
}

// CounterReader reads per company outcome counters
type CounterReader interface {
	Snapshot(ctx context.Context) (map[string]map[string]int64, error)
}

// AdminSyncController is the operator surface of the sync engine
type AdminSyncController struct {
	refresher SchedulerRefresher
	queue     QueueOperator
	schedules ScheduleLister
	counters  CounterReader
	companies repository.CompanyRepository
	settings  repository.SettingRepository
}

// NewAdminSyncController creates the admin controller
func NewAdminSyncController(refresher SchedulerRefresher, queue QueueOperator, schedules ScheduleLister, counters CounterReader, companies repository.CompanyRepository, settings repository.SettingRepository) *AdminSyncController {
	return &AdminSyncController{
		refresher: refresher,
		queue:     queue,
		schedules: schedules,
		counters:  counters,
		companies: companies,
		settings:  settings,
	}
}

// HandleRefresh handles POST /admin/sync/refresh
func (a *AdminSyncController) HandleRefresh(c *fiber.Ctx) error {
	n, err := a.refresher.RefreshScheduler(c.UserContext())
	if err != nil {
		log.Errorf("[AdminSync] Refresh failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Schedule refresh failed")
	}
	return c.JSON(fiber.Map{"status": "ok", "registered": n})
}

// HandleSchedules handles GET /admin/sync/schedules
func (a *AdminSyncController) HandleSchedules(c *fiber.Ctx) error {
	entries, err := a.schedules.ListEntries(c.UserContext())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list schedules")
	}
	return c.JSON(fiber.Map{"schedules": entries, "total": len(entries)})
}

// HandleStats handles GET /admin/sync/stats
func (a *AdminSyncController) HandleStats(c *fiber.Ctx) error {
	stats, err := a.queue.Stats(c.UserContext())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load queue stats")
	}
	counters, err := a.counters.Snapshot(c.UserContext())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load counters")
	}
	return c.JSON(fiber.Map{"queue": stats, "companies": counters})
}

// HandleDeadLetters handles GET /admin/sync/dead-letters?offset=&limit=
func (a *AdminSyncController) HandleDeadLetters(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	jobs, err := a.queue.ListDeadLetters(c.UserContext(), int64(offset), int64(limit))
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list dead letters")
	}
	return c.JSON(fiber.Map{"jobs": jobs, "offset": offset, "limit": limit})
}

// HandleRetryDeadLetter handles POST /admin/sync/dead-letters/:id/retry
func (a *AdminSyncController) HandleRetryDeadLetter(c *fiber.Ctx) error {
	job, err := a.queue.RetryDeadLetter(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.jobError(c, err)
	}
	log.Infof("[AdminSync] Dead letter %s requeued", job.ID)
	return c.JSON(fiber.Map{"status": "queued", "job": job})
}

// HandleDeleteDeadLetter handles DELETE /admin/sync/dead-letters/:id
func (a *AdminSyncController) HandleDeleteDeadLetter(c *fiber.Ctx) error {
	if err := a.queue.DeleteDeadLetter(c.UserContext(), c.Params("id")); err != nil {
		return a.jobError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleJob handles GET /admin/sync/jobs/:id
func (a *AdminSyncController) HandleJob(c *fiber.Ctx) error {
	job, err := a.queue.GetJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return a.jobError(c, err)
	}
	return c.JSON(job)
}

// HandleTrigger handles POST /admin/sync/companies/:companyId/trigger/:type
func (a *AdminSyncController) HandleTrigger(c *fiber.Ctx) error {
	companyID := utils.CopyString(c.Params("companyId"))
	syncType := strings.ToLower(utils.CopyString(c.Params("type")))
	if syncType != models.SyncTypeMember && syncType != models.SyncTypeDeposit {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Only member and deposit batches can be triggered")
	}

	if _, err := a.companies.GetByID(c.UserContext(), companyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Company "+companyID+" not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Company lookup failed")
	}

	job := jobqueue.NewJob(jobqueue.JobTypeCompanyBatch, companyID, jobqueue.SourceManual)
	job.ID = jobqueue.ManualJobID(syncType)
	job.SyncType = syncType
	if err := a.queue.Enqueue(c.UserContext(), job); err != nil {
		log.Errorf("[AdminSync] Failed to queue %s batch for company %s: %v", syncType, companyID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue sync job")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "jobId": job.ID, "type": syncType})
}

// HandleMasterTrigger handles POST /admin/sync/master-trigger
func (a *AdminSyncController) HandleMasterTrigger(c *fiber.Ctx) error {
	job := jobqueue.NewJob(jobqueue.JobTypeMasterTrigger, "", jobqueue.SourceManual)
	job.ID = jobqueue.ManualJobID("master")
	if err := a.queue.Enqueue(c.UserContext(), job); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue master trigger")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued", "jobId": job.ID})
}

// HandleUpdateIntegration handles PUT /admin/sync/companies/:companyId/integration.
// Saving raises the config changed signal, so every process refreshes its schedules.
func (a *AdminSyncController) HandleUpdateIntegration(c *fiber.Ctx) error {
	companyID := c.Params("companyId")

	var cfg models.IntegrationConfig
	if err := c.BodyParser(&cfg); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid integration config")
	}
	if err := cfg.Validate(); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	if err := a.companies.UpdateIntegrationConfig(c.UserContext(), companyID, cfg); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Company "+companyID+" not found")
		}
		log.Errorf("[AdminSync] Failed to update integration of company %s: %v", companyID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update integration config")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type cronRequest struct {
	Pattern string `json:"pattern"`
}

// HandleUpdateCron handles PUT /admin/sync/settings/cron: the global default
// schedule of companies without their own cron.
func (a *AdminSyncController) HandleUpdateCron(c *fiber.Ctx) error {
	var req cronRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid body")
	}
	pattern := strings.TrimSpace(req.Pattern)
	if pattern == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "pattern is required")
	}
	if err := scheduler.ValidatePattern(pattern); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid cron pattern: "+err.Error())
	}

	if err := a.settings.SetValue(c.UserContext(), models.SettingSyncHourlyCron, pattern); err != nil {
		log.Errorf("[AdminSync] Failed to store global cron %q: %v", pattern, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store cron pattern")
	}
	return c.JSON(fiber.Map{"status": "ok", "pattern": pattern})
}

func (a *AdminSyncController) jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jobqueue.ErrJobNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, jobqueue.ErrNotDeadLettered):
		return jsonError(c, fiber.StatusConflict, "conflict", "Job is not dead-lettered")
	}
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", err.Error())
}
