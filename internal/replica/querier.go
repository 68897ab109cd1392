package replica

import (
	"context"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
)

// Querier runs read-only SQL against the wiki replica and scans the rows into dest.
type Querier interface {
	Scan(ctx context.Context, dest any, query string, args ...any) error
}

// GormQuerier executes raw replica queries through a Gorm connection.
type GormQuerier struct {
	db *gorm.DB
}

var _ Querier = (*GormQuerier)(nil)

// NewGormQuerier constructs a Querier over the provided replica connection.
func NewGormQuerier(db *gorm.DB) (*GormQuerier, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormQuerier{db: db}, nil
}

// Scan runs query with args and scans every resulting row into dest.
func (q *GormQuerier) Scan(ctx context.Context, dest any, query string, args ...any) error {
	if err := q.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error; err != nil {
		return eris.Wrap(err, "running replica query")
	}
	return nil
}
