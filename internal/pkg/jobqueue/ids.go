package jobqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CronMemberJobID is the id of a per-member job fanned out by a batch run.
// Two runs that see the same member collapse into one pending job.
func CronMemberJobID(companyID, externalUserID string) string {
	return fmt.Sprintf("cron_%s_%s", companyID, externalUserID)
}

// CronDepositJobID is the id of a per-transaction job fanned out by a deposit batch run.
func CronDepositJobID(companyID, transactionID string) string {
	return fmt.Sprintf("cron_deposit_%s_%s", companyID, transactionID)
}

// WebhookJobID is the id of a job created from an inbound webhook that carried a reference.
func WebhookJobID(syncType, companyID, referenceID string) string {
	return fmt.Sprintf("webhook_%s_%s_%s", syncType, companyID, referenceID)
}

// RepeatJobID is the id of the batch job created when a recurring entry fires.
// It is bucketed per minute so several processes firing the same entry dedup.
func RepeatJobID(entryID string, firedAt time.Time) string {
	return fmt.Sprintf("repeat_%s_%d", entryID, firedAt.Unix()/60)
}

// ManualJobID is the id of an operator-triggered job.
func ManualJobID(kind string) string {
	return fmt.Sprintf("manual_%s_%s", kind, uuid.New().String())
}
