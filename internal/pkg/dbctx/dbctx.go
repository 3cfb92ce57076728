package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the caller's context.Context together with the GORM
// transaction the work should run in. Tx may be nil, in which case repos
// fall back to their own *gorm.DB handle.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
