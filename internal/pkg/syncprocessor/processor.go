package syncprocessor

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	metrics "github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/metrics/counter"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/syncstrategy"
)

// MasterTriggerBatchSize bounds how many companies the master trigger syncs at once
const MasterTriggerBatchSize = 30

// Companies is the tenant lookup the processor needs
type Companies interface {
	GetByID(ctx context.Context, id string) (*models.Company, error)
	ListIntegrationEnabled(ctx context.Context) ([]models.Company, error)
}

// Strategies resolves the strategy of a provider
type Strategies interface {
	Get(provider string) (syncstrategy.Strategy, error)
}

// Counter records sync outcomes per company
type Counter interface {
	Add(ctx context.Context, outcome, companyID string) error
}

// MasterResult is the result of a master trigger run
type MasterResult struct {
	Success        bool `json:"success"`
	TotalCompanies int  `json:"totalCompanies"`
	TotalQueued    int  `json:"totalQueued"`
	Failed         int  `json:"failed"`
}

// Processor is the queue handler: it resolves the company and its strategy and
// runs the job. Errors returned here are retried by the queue unless permanent.
type Processor struct {
	companies  Companies
	strategies Strategies
	counter    Counter
}

// NewProcessor creates a processor. counter may be nil.
func NewProcessor(companies Companies, strategies Strategies, counter Counter) *Processor {
	return &Processor{companies: companies, strategies: strategies, counter: counter}
}

// Handle implements jobqueue.Handler
func (p *Processor) Handle(ctx context.Context, job *jobqueue.Job) (interface{}, error) {
	log.Infof("[SyncProcessor] Processing %s job %s for company %s (source %s, attempt %d)", job.Type, job.ID, job.CompanyID, job.Source, job.Attempts)

	if job.Type == jobqueue.JobTypeMasterTrigger {
		return p.masterTrigger(ctx)
	}

	result, err := p.process(ctx, job)
	p.record(ctx, job.CompanyID, result, err)
	if err != nil {
		log.Errorf("[SyncProcessor] %s job %s for company %s failed: %v", job.Type, job.ID, job.CompanyID, err)
		return nil, err
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, job *jobqueue.Job) (*syncstrategy.Result, error) {
	company, err := p.companies.GetByID(ctx, job.CompanyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[SyncProcessor] Company %s not found, skipping job %s", job.CompanyID, job.ID)
			return syncstrategy.Skip("company not found"), nil
		}
		return nil, err
	}
	if !company.HasActiveIntegration() {
		log.Warnf("[SyncProcessor] Integration of company %s disabled or without provider, skipping job %s", job.CompanyID, job.ID)
		return syncstrategy.Skip("integration inactive"), nil
	}

	strategy, err := p.strategies.Get(company.IntegrationConfig.Provider)
	if err != nil {
		return nil, err
	}

	params := syncstrategy.Params{
		Type:    string(job.Type),
		Payload: job.Payload,
		Source:  job.Source,
		JobID:   job.ID,
	}
	switch job.Type {
	case jobqueue.JobTypeCompanyBatch:
		params.Type = job.SyncType
		if params.Type == "" {
			params.Type = models.SyncTypeMember
		}
		params.Batch = true
	default:
		params.ExternalUserID = job.ExternalUserID
		if params.ExternalUserID == "" {
			params.ExternalUserID = job.PayloadString("userId")
		}
		if params.ExternalUserID == "" {
			params.ExternalUserID = job.PayloadString("id")
		}
		if params.ExternalUserID == "" {
			params.ExternalUserID = job.PayloadString("user_id")
		}
	}

	return strategy.Execute(ctx, company.ID, &company.IntegrationConfig, params)
}

func (p *Processor) record(ctx context.Context, companyID string, result *syncstrategy.Result, err error) {
	if p.counter == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case result == nil:
		outcome = metrics.OutcomeSkipped
	case result.Duplicate:
		outcome = metrics.OutcomeDuplicate
	case result.Skipped || !result.Success:
		outcome = metrics.OutcomeSkipped
	}
	if cerr := p.counter.Add(ctx, outcome, companyID); cerr != nil {
		log.Warnf("[SyncProcessor] Failed to count %s for company %s: %v", outcome, companyID, cerr)
	}
}

// masterTrigger runs the member and deposit batch of every enabled company,
// at most MasterTriggerBatchSize at a time. One company failing does not stop the rest.
func (p *Processor) masterTrigger(ctx context.Context) (*MasterResult, error) {
	companies, err := p.companies.ListIntegrationEnabled(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("[SyncProcessor] Master trigger over %d enabled companies", len(companies))

	var (
		mu  sync.Mutex
		out = &MasterResult{Success: true, TotalCompanies: len(companies)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MasterTriggerBatchSize)
	for i := range companies {
		company := companies[i]
		g.Go(func() error {
			queued, err := p.syncCompany(gctx, &company)
			mu.Lock()
			defer mu.Unlock()
			out.TotalQueued += queued
			if err != nil {
				out.Failed++
				log.Errorf("[SyncProcessor] Master trigger failed for company %s: %v", company.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("[SyncProcessor] Master trigger queued %d jobs across %d companies (%d failed)", out.TotalQueued, out.TotalCompanies, out.Failed)
	return out, nil
}

func (p *Processor) syncCompany(ctx context.Context, company *models.Company) (int, error) {
	strategy, err := p.strategies.Get(company.IntegrationConfig.Provider)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, syncType := range []string{models.SyncTypeMember, models.SyncTypeDeposit} {
		if syncType != models.SyncTypeMember && !company.IntegrationConfig.IsSyncTypeEnabled(syncType) {
			continue
		}
		res, err := strategy.Execute(ctx, company.ID, &company.IntegrationConfig, syncstrategy.Params{
			Type:   syncType,
			Batch:  true,
			Source: jobqueue.SourceManual,
		})
		if err != nil {
			return queued, err
		}
		queued += res.Queued
	}
	return queued, nil
}
