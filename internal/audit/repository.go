package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineParams are the bound arguments of the timeline queries. Invalid values disable a filter.
type TimelineParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Entity     pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// TimelineRecord is a raw audit_logs row joined with the actor's email.
type TimelineRecord struct {
	At       pgtype.Timestamptz
	ActorID  pgtype.Int8
	Actor    pgtype.Text
	Action   string
	Entity   string
	EntityID pgtype.Text
	Meta     []byte
}

// Repository reads audit entries.
type Repository interface {
	TimelineWindow(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error)
}

const timelineQuery = `SELECT a.occurred_at, a.actor_id, u.email, a.action, a.entity, a.entity_id, a.meta
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.actor_id
	WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
	  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
	  AND ($3::text IS NULL OR lower(u.email) = lower($3))
	  AND ($4::text IS NULL OR a.entity = $4)
	  AND ($5::text IS NULL OR a.action = $5)
	ORDER BY a.occurred_at DESC, a.id DESC`

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow returns one page of entries.
func (r *PGRepository) TimelineWindow(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineQuery+` OFFSET $6 LIMIT $7`,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRecord, error) {
		var rec TimelineRecord
		err := row.Scan(&rec.At, &rec.ActorID, &rec.Actor, &rec.Action, &rec.Entity, &rec.EntityID, &rec.Meta)
		return rec, err
	})
}

var _ Repository = (*PGRepository)(nil)
