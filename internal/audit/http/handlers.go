package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agencyhub/backoffice/internal/audit"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
	dateLayout        = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	guard   func(http.Handler) http.Handler
	now     func() time.Time
}

// NewHandler builds a Handler. guard restricts every route; nil leaves them open.
func NewHandler(logger *slog.Logger, service TimelineService, guard func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if errors.Is(err, audit.ErrPageOutOfRange) {
		httpx.ValidationProblem(w, map[string]string{"page": "out_of_range"})
		return
	}
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// parseFilters reads date bounds as whole UTC days; to is inclusive.
func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format(dateLayout)
	}
	toTime, err := time.Parse(dateLayout, toStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "to"}
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format(dateLayout)
	}
	fromTime, err := time.Parse(dateLayout, fromStr)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "from"}
	}
	if fromTime.After(toTime) || toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, validationError{field: "range"}
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "page"}
	}
	pageSize, err := positiveInt(q.Get("page_size"), 0)
	if err != nil {
		return audit.TimelineFilters{}, validationError{field: "page_size"}
	}

	return audit.TimelineFilters{
		From:     fromTime,
		To:       toTime.Add(24 * time.Hour),
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return v, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.ValidationProblem(w, map[string]string{v.field: "invalid"})
		return
	}
	h.handleServerError(w, "validate filters", err)
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
