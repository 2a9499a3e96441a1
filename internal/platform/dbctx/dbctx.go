package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction so
// repo methods take one argument instead of a (ctx, tx) pair. Tx is nil
// outside a transaction; callers fall back to their base *gorm.DB.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// DB returns the transaction to use, falling back to base when the bundle
// carries none.
func (c Context) DB(base *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx
	}
	return base
}
