package store

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrConcurrency matches every *ConcurrencyError through errors.Is.
	ErrConcurrency = errors.New("store: concurrency conflict")
	// ErrNoTransaction indicates that Save was called without an open transaction.
	ErrNoTransaction = errors.New("store: active transaction required")
	// ErrPatchAfterPendingWrite indicates that a patch would race a staged insert or replacement.
	ErrPatchAfterPendingWrite = errors.New("store: patch conflicts with pending write")
	// ErrEmptyPatch indicates that a patch carries no fields.
	ErrEmptyPatch = errors.New("store: empty patch")
	// ErrUnknownPatchField indicates that a patch names a field the entity does not have.
	ErrUnknownPatchField = errors.New("store: unknown patch field")
	// ErrNilEntity indicates that a nil entity was staged.
	ErrNilEntity = errors.New("store: nil entity")
	// ErrMissingEntityID indicates that an update or patch targets an entity without an id.
	ErrMissingEntityID = errors.New("store: entity id is required")
)

// ConcurrencyError reports a write whose expected version no longer matches the stored one.
// Callers retry the whole operation from a fresh read.
type ConcurrencyError struct {
	ID   string
	ETag string
	Err  error
}

func (e *ConcurrencyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: concurrency conflict for id %q with etag %q", e.ID, e.ETag)
	}
	return fmt.Sprintf("store: concurrency conflict for id %q with etag %q: %v", e.ID, e.ETag, e.Err)
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConcurrency) hold for any ConcurrencyError.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// Driver error codes that mean another writer got there first.
const (
	mysqlDuplicateEntry     = 1062
	mysqlRecordChanged      = 1020
	mysqlDeadlock           = 1213
	postgresUniqueViolation = "23505"
	postgresSerialization   = "40001"
	postgresDeadlock        = "40P01"
	sqliteBusy              = 5
	sqliteLocked            = 6
	sqliteBusyRecovery      = 261
	sqliteLockedSharedCache = 262
	sqliteBusySnapshot      = 517
	sqlitePrimaryKey        = 1555
	sqliteUnique            = 2067
)

func translateError(err error, id, etag string) error {
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return &ConcurrencyError{ID: id, ETag: etag, Err: err}
	}
	return err
}

func isConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry, mysqlRecordChanged, mysqlDeadlock:
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case postgresUniqueViolation, postgresSerialization, postgresDeadlock:
			return true
		}
		return false
	}

	var sqliteErr interface{ Code() int }
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqliteBusy, sqliteLocked, sqliteBusyRecovery, sqliteLockedSharedCache,
			sqliteBusySnapshot, sqlitePrimaryKey, sqliteUnique:
			return true
		}
	}
	return false
}
