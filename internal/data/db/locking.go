package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lock_not_available, raised by FOR UPDATE NOWAIT.
const pgLockNotAvailable = "55P03"

// ForUpdate locks selected rows until the transaction ends. SQLite has no
// row locks; its single writer connection gives the same ordering.
func ForUpdate(db *gorm.DB) *gorm.DB {
	if IsSQLite(db) {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateNoWait is ForUpdate failing fast when another transaction
// already holds the row.
func ForUpdateNoWait(db *gorm.DB) *gorm.DB {
	if IsSQLite(db) {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
}

// ForUpdateSkipLocked is used by the job claim loop.
func ForUpdateSkipLocked(db *gorm.DB) *gorm.DB {
	if IsSQLite(db) {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

// IsLockNotAvailable reports whether err came from a NOWAIT lock that
// another transaction holds.
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// InTx runs fn in a transaction unless db is already one.
func InTx(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if IsTx(db) {
		return fn(db)
	}
	return db.Transaction(fn)
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func IsTx(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}
