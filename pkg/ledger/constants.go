package ledger

const (
	operationGetWallet = "get_wallet"
	operationCredit    = "credit"
	operationDebit     = "debit"
	operationRefund    = "refund"
	operationAdjust    = "adjust"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectWallet    = "wallet"
	errorCodeRetries      = "retries_exhausted"

	defaultMaxAttempts  = 3
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	defaultAuditBatch   = 100

	// maxAmountCents bounds single mutations well below int64 overflow.
	maxAmountCents = 100_000_000_000
)
