package jobs

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	"go.uber.org/zap"
)

const (
	auditJobName     = "ledger_audit"
	retentionJobName = "webhook_retention"
	auditBatchSize   = 200
)

// Auditor recomputes wallet balances from their transactions.
type Auditor interface {
	Audit(ctx context.Context, batchSize int) ([]ledger.Discrepancy, error)
}

// EventPurger deletes processed webhook events received before a cutoff.
type EventPurger interface {
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)
}

// AuditJob logs every wallet whose stored balance differs from its ledger sum.
func AuditJob(auditor Auditor, interval time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     auditJobName,
		Interval: interval,
		Run: func(ctx context.Context) error {
			discrepancies, err := auditor.Audit(ctx, auditBatchSize)
			if err != nil {
				return err
			}
			for _, discrepancy := range discrepancies {
				logger.Error("wallet balance does not match ledger",
					zap.String("wallet_id", discrepancy.WalletID.String()),
					zap.String("user_id", discrepancy.UserID.String()),
					zap.Int64("balance_cents", discrepancy.StoredBalance.Int64()),
					zap.Int64("ledger_sum_cents", discrepancy.LedgerSum))
			}
			logger.Info("ledger audit finished", zap.Int("discrepancies", len(discrepancies)))
			return nil
		},
	}
}

// RetentionJob purges processed webhook events older than retention.
func RetentionJob(purger EventPurger, interval time.Duration, retention time.Duration, now func() time.Time, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     retentionJobName,
		Interval: interval,
		Run: func(ctx context.Context) error {
			cutoff := now().UTC().Add(-retention)
			purged, err := purger.PurgeEvents(ctx, cutoff)
			if err != nil {
				return err
			}
			if purged > 0 {
				logger.Info("webhook events purged", zap.Int64("purged", purged), zap.Time("before", cutoff))
			}
			return nil
		},
	}
}
