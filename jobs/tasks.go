package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/agencyhub/backoffice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep removes expired identity sessions.
	TaskSessionSweep = "sessions:sweep"
)

// SessionSweepPayload describes a sweep request.
type SessionSweepPayload struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSessionSweepTask constructs an Asynq task.
func NewSessionSweepTask(requestedBy string) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data, asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// SessionSweeper expires identity sessions.
type SessionSweeper interface {
	ExpireSessions(ctx context.Context) (int, error)
}

// NewSessionSweepHandler processes TaskSessionSweep tasks.
func NewSessionSweepHandler(sweeper SessionSweeper, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SessionSweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return fmt.Errorf("jobs: decode sweep payload: %w: %w", err, asynq.SkipRetry)
			}
		}
		tracker := metrics.Track(TaskSessionSweep)
		count, err := sweeper.ExpireSessions(ctx)
		if err != nil {
			logger.Error("session sweep failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddExpiredSessions(count)
		logger.Info("session sweep", slog.Int("expired", count), slog.String("requested_by", payload.RequestedBy))
		return tracker.End(nil)
	}
}
