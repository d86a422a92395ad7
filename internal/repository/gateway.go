// internal/repository/gateway.go
package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Gateway is the full persistence surface used by the engine.
type Gateway interface {
	CampaignRepositoryInterface
	EmailTaskRepositoryInterface
	ScheduleRepositoryInterface
	ResponseRepositoryInterface
	DeadLetterRepositoryInterface
	AuditRepositoryInterface
	Ping(ctx context.Context) error
}

var (
	_ Gateway = (*Postgres)(nil)
	_ Gateway = (*MemoryStore)(nil)
)

// Postgres bundles the sqlx-backed repositories over one pool.
type Postgres struct {
	*CampaignRepository
	*EmailTaskRepository
	*ScheduleRepository
	*ResponseRepository
	*DeadLetterRepository
	*AuditRepository

	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{
		CampaignRepository:   &CampaignRepository{DB: db},
		EmailTaskRepository:  &EmailTaskRepository{DB: db},
		ScheduleRepository:   &ScheduleRepository{DB: db},
		ResponseRepository:   &ResponseRepository{DB: db},
		DeadLetterRepository: &DeadLetterRepository{DB: db},
		AuditRepository:      &AuditRepository{DB: db},
		db:                   db,
	}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
