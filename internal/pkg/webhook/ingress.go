package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jkbackend"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
)

var (
	ErrCompanyNotFound   = errors.New("company not found")
	ErrAddressNotAllowed = errors.New("address not whitelisted")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrUnsupportedType   = errors.New("unsupported webhook type")
)

// referenceKeys name the provider reference of a financial event
var referenceKeys = []string{"orderId", "transactionId", "referenceId", "reference_id", "id"}

// jobTypes maps webhook types onto queue job types
var jobTypes = map[string]jobqueue.JobType{
	models.SyncTypeMember:   jobqueue.JobTypeMember,
	"sync-player":           jobqueue.JobTypeMember,
	models.SyncTypeDeposit:  jobqueue.JobTypeDeposit,
	models.SyncTypeWithdraw: jobqueue.JobTypeWithdraw,
}

// CompanyFinder looks tenants up by id
type CompanyFinder interface {
	GetByID(ctx context.Context, id string) (*models.Company, error)
}

// Enqueuer accepts webhook jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) error
}

// Request is one inbound webhook delivery
type Request struct {
	SyncType   string
	CompanyID  string
	Payload    map[string]interface{}
	SourceAddr string
	Signature  string
	Body       []byte
}

// Ack is returned to the caller once the job is queued
type Ack struct {
	Status  string `json:"status"`
	Type    string `json:"type"`
	Message string `json:"message"`
	JobID   string `json:"-"`
}

// Ingress validates webhook deliveries and turns them into queued jobs.
// Nothing is processed on the request path.
type Ingress struct {
	companies CompanyFinder
	queue     Enqueuer
}

func NewIngress(companies CompanyFinder, queue Enqueuer) *Ingress {
	return &Ingress{companies: companies, queue: queue}
}

// Handle checks the tenant, its allowlist and signature, then enqueues the job.
func (i *Ingress) Handle(ctx context.Context, req Request) (*Ack, error) {
	company, err := i.companies.GetByID(ctx, req.CompanyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, req.CompanyID)
		}
		return nil, err
	}
	cfg := company.IntegrationConfig

	if cfg.Enabled && cfg.IPWhitelistEnabled && !AddressAllowed(req.SourceAddr, cfg.AllowedIPs()) {
		log.Warnf("[SyncWebhook] Rejected webhook from non-whitelisted IP %s for company %s", req.SourceAddr, req.CompanyID)
		return nil, fmt.Errorf("%w: %s", ErrAddressNotAllowed, req.SourceAddr)
	}

	if strings.TrimSpace(cfg.WebhookSecret) != "" && !VerifySignature(req.Body, req.Signature, cfg.WebhookSecret) {
		log.Warnf("[SyncWebhook] Rejected webhook with bad signature for company %s", req.CompanyID)
		return nil, ErrInvalidSignature
	}

	jobType, ok := jobTypes[req.SyncType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, req.SyncType)
	}

	job := jobqueue.NewJob(jobType, req.CompanyID, jobqueue.SourceWebhook)
	job.SyncType = req.SyncType
	job.Payload = req.Payload
	job.ExternalUserID = jkbackend.Record(req.Payload).String("uid", "userId", "user_id", "memberId", "member_id")
	if jobType != jobqueue.JobTypeMember {
		// provider retries of the same event collapse into one job
		if ref := jkbackend.Record(req.Payload).String(referenceKeys...); ref != "" {
			job.ID = jobqueue.WebhookJobID(req.SyncType, req.CompanyID, ref)
		}
	}

	err = i.queue.Enqueue(ctx, job)
	switch {
	case errors.Is(err, jobqueue.ErrDuplicateJob):
		log.Infof("[SyncWebhook] Duplicate %s webhook %s for company %s", req.SyncType, job.ID, req.CompanyID)
	case err != nil:
		return nil, fmt.Errorf("enqueue webhook job: %w", err)
	default:
		log.Infof("[SyncWebhook] Queued %s webhook %s for company %s", req.SyncType, job.ID, req.CompanyID)
	}

	return &Ack{Status: "queued", Type: req.SyncType, Message: "Sync job accepted", JobID: job.ID}, nil
}
