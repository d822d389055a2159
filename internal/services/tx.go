package services

import (
	"gorm.io/gorm"

	dbpkg "github.com/yungbote/panelapp-backend/internal/data/db"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
)

// inTx runs fn inside dbc.Tx when it already is a transaction, otherwise in
// a new one on db. owned reports whether this call opened (and therefore
// committed) the transaction; callers publish events only when it did.
func inTx(db *gorm.DB, dbc dbctx.Context, fn func(dbc dbctx.Context) error) (owned bool, err error) {
	dbc.Ctx = ctxutil.Default(dbc.Ctx)
	if dbpkg.IsTx(dbc.Tx) {
		return false, fn(dbc)
	}
	base := dbc.Tx
	if base == nil {
		base = db
	}
	return true, base.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

// readDBC returns dbc with a non-nil context, falling back to db when no
// transaction is set.
func readDBC(db *gorm.DB, dbc dbctx.Context) dbctx.Context {
	dbc.Ctx = ctxutil.Default(dbc.Ctx)
	if dbc.Tx == nil {
		dbc.Tx = db
	}
	return dbc
}
