package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// ErrPageOutOfRange is returned when the requested page starts past the
// largest offset the query accepts.
var ErrPageOutOfRange = errors.New("audit: page out of range")

// Service reads the audit timeline.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := int64(page-1) * int64(pageSize)
	if offset > math.MaxInt32 {
		return Result{}, fmt.Errorf("%w: page %d", ErrPageOutOfRange, page)
	}
	params := paramsFor(filters)
	params.OffsetRows = int32(offset)
	params.LimitRows = int32(pageSize + 1)

	records, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(records) > pageSize
	if hasNext {
		records = records[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: mapRecords(records), Paging: paging}, nil
}

func paramsFor(filters TimelineFilters) TimelineParams {
	return TimelineParams{
		FromAt: toPgTime(filters.From),
		ToAt:   toPgTime(filters.To),
		Actor:  optionalText(filters.Actor),
		Entity: optionalText(filters.Entity),
		Action: optionalText(filters.Action),
	}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func mapRecords(records []TimelineRecord) []TimelineRow {
	rows := make([]TimelineRow, 0, len(records))
	for _, rec := range records {
		row := TimelineRow{
			Action:   rec.Action,
			Entity:   rec.Entity,
			EntityID: rec.EntityID.String,
			Actor:    rec.Actor.String,
		}
		if rec.At.Valid {
			row.At = rec.At.Time
		}
		if rec.ActorID.Valid {
			row.ActorID = rec.ActorID.Int64
		}
		if len(rec.Meta) > 0 && json.Valid(rec.Meta) {
			row.Meta = json.RawMessage(rec.Meta)
		}
		rows = append(rows, row)
	}
	return rows
}
