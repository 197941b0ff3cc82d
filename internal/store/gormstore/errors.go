package gormstore

import (
	"errors"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolationCode     = "23505"
	pgSerializationFailure    = "40001"
	pgDeadlockDetected        = "40P01"
	sqliteBusyCode            = 5
	sqliteLockedCode          = 6
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectWallet        = "wallet"
	errorSubjectTransaction   = "transaction"
	errorSubjectShipment      = "shipment"
	errorSubjectItem          = "locker_item"
	errorSubjectEvent         = "webhook_event"
	errorSubjectIntake        = "intake"
	errorCodeAttach           = "attach"
	errorCodeCreate           = "create"
	errorCodeDetach           = "detach"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLock             = "lock"
	errorCodeLookup           = "lookup"
	errorCodeMigrate          = "migrate"
	errorCodePurge            = "purge"
	errorCodeSum              = "sum"
	errorCodeSerialization    = "serialization"
	errorCodeUpdate           = "update"
	errorCodeUpdateBalance    = "update_balance"
	constraintWalletReference = "uniq_wallet_kind_reference"
)

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isReferenceConflict(err error) bool {
	if !isUniqueViolation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName == constraintWalletReference
	}
	return true
}

// isRetryable reports conflicts a fresh transaction may resolve.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xFF
		return primary == sqliteBusyCode || primary == sqliteLockedCode
	}
	return false
}
