// Package dbctx bundles a request-scoped context.Context with an optional
// GORM transaction, so repository methods can be called either inside or
// outside a transaction boundary without two parallel method sets.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the caller's context plus an optional open transaction.
// When Tx is nil, repository implementations fall back to their own *gorm.DB.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func Background() Context {
	return Context{Ctx: context.Background()}
}
