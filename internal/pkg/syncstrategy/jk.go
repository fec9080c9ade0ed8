package syncstrategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jkbackend"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/ledger"
)

const (
	DefaultMaxPages = 200
	MaxDepositPages = 500

	// effectively unbounded, for full syncs
	fullSyncPageLimit = 999999
)

// Provider field name variants seen in webhook and listing payloads.
var (
	userIDKeys    = []string{"uid", "userId", "user_id", "memberId", "member_id"}
	amountKeys    = []string{"amount", "depositAmount", "deposit_amount"}
	referenceKeys = []string{"orderId", "transactionId", "referenceId", "reference_id", "id"}
)

// piiKeys are stored in dedicated member columns or must not be stored at all.
var piiKeys = map[string]struct{}{
	"username":    {},
	"name":        {},
	"realName":    {},
	"real_name":   {},
	"mobile":      {},
	"phone":       {},
	"phoneNumber": {},
	"email":       {},
	"password":    {},
	"idCard":      {},
	"bankAccount": {},
}

// Backend is the part of the JK client the strategy uses
type Backend interface {
	FetchUser(ctx context.Context, cfg *models.IntegrationConfig, id string) (jkbackend.Record, error)
	FetchUsers(ctx context.Context, cfg *models.IntegrationConfig, page int, params map[string]interface{}) (*jkbackend.Page, error)
	FetchTransactions(ctx context.Context, cfg *models.IntegrationConfig, page int, filters map[string]interface{}) (*jkbackend.Page, error)
}

// MemberStore upserts synced members
type MemberStore interface {
	UpsertExternalMember(ctx context.Context, companyID, externalID string, profile models.MemberProfile) (*models.Member, error)
}

// DepositProcessor credits deposits exactly once
type DepositProcessor interface {
	ProcessDeposit(ctx context.Context, req ledger.DepositRequest) (*ledger.Result, error)
}

// Enqueuer accepts fanned-out per-entity jobs
type Enqueuer interface {
	EnqueueBulk(ctx context.Context, jobs []*jobqueue.Job) (int, error)
}

// JKStrategy syncs members and deposits from the JK backend
type JKStrategy struct {
	backend Backend
	members MemberStore
	ledger  DepositProcessor
	queue   Enqueuer
}

// NewJKStrategy creates the JK strategy
func NewJKStrategy(backend Backend, members MemberStore, deposits DepositProcessor, queue Enqueuer) *JKStrategy {
	return &JKStrategy{
		backend: backend,
		members: members,
		ledger:  deposits,
		queue:   queue,
	}
}

func (s *JKStrategy) Execute(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p Params) (*Result, error) {
	ctx = jkbackend.WithCompany(ctx, companyID)

	syncType := p.Type
	if syncType == "" {
		syncType = models.SyncTypeMember
	}

	switch syncType {
	case models.SyncTypeMember, "sync-player":
		if p.Batch {
			return s.syncMemberBatch(ctx, companyID, cfg, p)
		}
		return s.syncMember(ctx, companyID, cfg, p)
	case models.SyncTypeDeposit:
		if p.Batch {
			return s.syncDepositBatch(ctx, companyID, cfg, p)
		}
		return s.syncDeposit(ctx, companyID, cfg, p)
	case models.SyncTypeWithdraw:
		// settlement is not implemented, the event is only acknowledged
		log.Infof("[JKStrategy] Withdraw event for company %s acknowledged (job %s)", companyID, p.JobID)
		return &Result{Success: true, Reason: "withdraw acknowledged"}, nil
	default:
		log.Warnf("[JKStrategy] Unknown sync type %q for company %s", syncType, companyID)
		return Skip("unknown sync type"), nil
	}
}

func (s *JKStrategy) syncMember(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p Params) (*Result, error) {
	record := jkbackend.Record(p.Payload)
	if record.ID() != "" {
		log.Debugf("[JKStrategy] Using provided payload for member %s", record.ID())
	} else {
		if p.ExternalUserID == "" {
			return Skip("missing external user id"), nil
		}
		fetched, err := s.backend.FetchUser(ctx, cfg, p.ExternalUserID)
		if err != nil {
			return classify(companyID, err)
		}
		record = fetched
	}

	externalID := record.ID()
	if externalID == "" {
		externalID = p.ExternalUserID
	}

	member, err := s.members.UpsertExternalMember(ctx, companyID, externalID, models.MemberProfile{
		Username:    record.String("username"),
		RealName:    record.String("name", "realName", "real_name"),
		PhoneNumber: record.String("mobile", "phone", "phoneNumber"),
		Email:       record.String("email"),
		Metadata:    memberMetadata(record),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert member %s: %w", externalID, err)
	}

	log.Infof("[JKStrategy] Synced member %s (%s) of company %s", member.ID, externalID, companyID)
	return &Result{Success: true, MemberID: member.ID}, nil
}

// memberMetadata keeps everything except the PII fields.
func memberMetadata(record jkbackend.Record) map[string]interface{} {
	meta := make(map[string]interface{}, len(record))
	for k, v := range record {
		if _, pii := piiKeys[k]; pii {
			continue
		}
		meta[k] = v
	}
	return meta
}

type batchSettings struct {
	mode     string
	maxPages int
	params   map[string]interface{}
}

// memberBatchSettings resolves type-level, then root-level config, then defaults.
func memberBatchSettings(cfg *models.IntegrationConfig) batchSettings {
	typeCfg, _ := cfg.SyncConfigFor(models.SyncTypeMember)

	out := batchSettings{mode: models.SyncModeIncremental, maxPages: DefaultMaxPages}
	if typeCfg.SyncMode != "" {
		out.mode = typeCfg.SyncMode
	} else if cfg.SyncMode != "" {
		out.mode = cfg.SyncMode
	}

	switch {
	case out.mode == models.SyncModeFull:
		out.maxPages = fullSyncPageLimit
	case typeCfg.MaxPages > 0:
		out.maxPages = typeCfg.MaxPages
	case cfg.MaxPages > 0:
		out.maxPages = cfg.MaxPages
	}

	out.params = cfg.SyncParams
	if len(typeCfg.SyncParams) > 0 {
		out.params = typeCfg.SyncParams
	}
	return out
}

func (s *JKStrategy) syncMemberBatch(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p Params) (*Result, error) {
	settings := memberBatchSettings(cfg)
	log.Infof("[JKStrategy] Queueing %s member sync for company %s (maxPages=%d, source %s)", settings.mode, companyID, settings.maxPages, p.Source)

	result := &Result{Success: true}
	page := 0
	for page < settings.maxPages {
		resp, err := s.backend.FetchUsers(ctx, cfg, page, settings.params)
		if err != nil {
			// keep what was queued so far
			log.Errorf("[JKStrategy] Failed to fetch member page %d for company %s: %v", page, companyID, err)
			result.Reason = fmt.Sprintf("stopped at page %d: %v", page, err)
			break
		}
		if !resp.OK() || len(resp.Records) == 0 {
			log.Infof("[JKStrategy] Ending member sync for company %s at page %d (status %s, %d users)", companyID, page, resp.Status, len(resp.Records))
			break
		}
		if page == 0 {
			log.Infof("[JKStrategy] Company %s reports %d member pages", companyID, resp.TotalPage)
		}

		jobs := make([]*jobqueue.Job, 0, len(resp.Records))
		for _, user := range resp.Records {
			id := user.ID()
			if id == "" {
				continue
			}
			// fanned-out jobs carry provider listing data, whoever started the batch
			job := jobqueue.NewJob(jobqueue.JobTypeMember, companyID, jobqueue.SourceCron)
			job.ID = jobqueue.CronMemberJobID(companyID, id)
			job.ExternalUserID = id
			job.Payload = user.Map()
			jobs = append(jobs, job)
		}

		added, err := s.queue.EnqueueBulk(ctx, jobs)
		if err != nil {
			return nil, fmt.Errorf("enqueue member page %d: %w", page, err)
		}
		result.Queued += added
		page++
		result.Pages = page

		if page >= resp.TotalPage {
			break
		}
	}

	if page >= settings.maxPages {
		log.Infof("[JKStrategy] Company %s member sync page limit reached at page %d", companyID, page)
	}
	log.Infof("[JKStrategy] Queued %d member jobs for company %s over %d pages", result.Queued, companyID, result.Pages)
	return result, nil
}

func (s *JKStrategy) syncDeposit(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p Params) (*Result, error) {
	claimed := jkbackend.Record(p.Payload)
	userID := claimed.String(userIDKeys...)
	if userID == "" {
		userID = p.ExternalUserID
	}
	amount, amountOK := claimed.Decimal(amountKeys...)
	reference := claimed.String(referenceKeys...)

	if userID == "" || !amountOK || !amount.IsPositive() || reference == "" {
		log.Warnf("[JKStrategy] Invalid deposit payload for company %s (job %s)", companyID, p.JobID)
		return Skip("invalid deposit payload"), nil
	}

	// listing payloads come from the provider itself; anything else is re-fetched
	if p.Source != jobqueue.SourceCron {
		page, err := s.backend.FetchTransactions(ctx, cfg, 0, map[string]interface{}{"id": reference})
		if err != nil {
			return classify(companyID, err)
		}
		record, found := findTransaction(page, reference)
		if !found {
			log.Warnf("[JKStrategy] Deposit %s of company %s not found at provider", reference, companyID)
			return Skip("transaction not found at provider"), nil
		}

		if owner := record.String(userIDKeys...); owner != "" {
			if owner != userID {
				log.Warnf("[JKStrategy] Deposit %s of company %s belongs to %s, webhook claimed %s", reference, companyID, owner, userID)
				return Skip("transaction user mismatch"), nil
			}
		}
		amount, amountOK = record.Decimal(amountKeys...)
		if !amountOK || !amount.IsPositive() {
			return Skip("invalid transaction amount at provider"), nil
		}
		claimed = record
	}

	depositCfg, _ := cfg.SyncConfigFor(models.SyncTypeDeposit)
	res, err := s.ledger.ProcessDeposit(ctx, ledger.DepositRequest{
		CompanyID:      companyID,
		ExternalUserID: userID,
		Amount:         amount,
		ExchangeRate:   depositCfg.DepositConversionRate,
		ReferenceID:    reference,
		Metadata:       memberMetadata(claimed),
		Limits: ledger.Limits{
			MaxPointsPerDay:     depositCfg.MaxPointsPerDay,
			MaxEligibleDeposits: depositCfg.MaxEligibleDeposits,
		},
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Success:     res.Success,
		Skipped:     !res.Success,
		Reason:      res.Reason,
		MemberID:    res.MemberID,
		PointsAdded: res.PointsAdded,
		Duplicate:   res.Duplicate,
	}, nil
}

func findTransaction(page *jkbackend.Page, reference string) (jkbackend.Record, bool) {
	if !page.OK() {
		return nil, false
	}
	for _, rec := range page.Records {
		for _, key := range referenceKeys {
			if rec.String(key) == reference {
				return rec, true
			}
		}
	}
	return nil, false
}

func (s *JKStrategy) syncDepositBatch(ctx context.Context, companyID string, cfg *models.IntegrationConfig, p Params) (*Result, error) {
	log.Infof("[JKStrategy] Queueing deposit sync for company %s (last %d days, source %s)", companyID, jkbackend.LookbackDays(cfg), p.Source)

	result := &Result{Success: true}
	page := 0
	for page < MaxDepositPages {
		resp, err := s.backend.FetchTransactions(ctx, cfg, page, nil)
		if err != nil {
			log.Errorf("[JKStrategy] Failed to fetch deposit page %d for company %s: %v", page, companyID, err)
			result.Reason = fmt.Sprintf("stopped at page %d: %v", page, err)
			break
		}
		if !resp.OK() || len(resp.Records) == 0 {
			break
		}
		if page == 0 && resp.TotalPage > MaxDepositPages {
			log.Warnf("[JKStrategy] Company %s reports %d deposit pages, only %d will be read", companyID, resp.TotalPage, MaxDepositPages)
		}

		jobs := make([]*jobqueue.Job, 0, len(resp.Records))
		for _, tx := range resp.Records {
			id := tx.ID()
			if id == "" {
				continue
			}
			job := jobqueue.NewJob(jobqueue.JobTypeDeposit, companyID, jobqueue.SourceCron)
			job.ID = jobqueue.CronDepositJobID(companyID, id)
			job.ExternalUserID = tx.String(userIDKeys...)
			job.Payload = tx.Map()
			jobs = append(jobs, job)
		}

		added, err := s.queue.EnqueueBulk(ctx, jobs)
		if err != nil {
			return nil, fmt.Errorf("enqueue deposit page %d: %w", page, err)
		}
		result.Queued += added
		page++
		result.Pages = page

		if page >= resp.TotalPage {
			break
		}
	}

	if page >= MaxDepositPages {
		log.Warnf("[JKStrategy] Company %s deposit sync stopped at the %d page ceiling", companyID, MaxDepositPages)
	}
	log.Infof("[JKStrategy] Queued %d deposit jobs for company %s over %d pages", result.Queued, companyID, result.Pages)
	return result, nil
}

// classify turns a backend error into a skipped result, a permanent error or a
// retryable error.
func classify(companyID string, err error) (*Result, error) {
	switch {
	case errors.Is(err, jkbackend.ErrMissingConfig):
		log.Warnf("[JKStrategy] Company %s has no usable JK configuration", companyID)
		return Skip("missing provider configuration"), nil
	case errors.Is(err, jkbackend.ErrNotFound):
		return Skip(err.Error()), nil
	case jkbackend.IsTemporary(err):
		return nil, err
	default:
		return nil, jobqueue.Permanent(err)
	}
}
