package navigation

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/shared"
)

// AuditRecorder persists audit records.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditDenials writes refused navigations to the audit log.
type AuditDenials struct {
	Recorder AuditRecorder
	Logger   *slog.Logger
}

// RecordDenial implements DenialAuditor.
func (a AuditDenials) RecordDenial(ctx context.Context, actor access.Actor, path string) {
	id, _ := strconv.ParseInt(actor.ID, 10, 64)
	err := a.Recorder.Record(ctx, shared.AuditLog{
		ActorID:  id,
		Action:   "navigation.denied",
		Entity:   "route",
		EntityID: path,
		Meta:     map[string]any{"role": actor.Role},
	})
	if err != nil && a.Logger != nil {
		a.Logger.Warn("audit denial", slog.String("path", path), slog.Any("error", err))
	}
}
