package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"ChargeFit/internal/domain/models"
	drepo "ChargeFit/internal/domain/repository"
	pkgkafka "ChargeFit/pkg/kafka"
	applogger "ChargeFit/pkg/logger"
)

type hitFitter interface {
	FitHit(ctx context.Context, ev models.HitEvent) (*models.HitResult, error)
}

// HitsHandler consumes hit events and fits each one.
type HitsHandler struct {
	topic    string
	svc      hitFitter
	metrics  drepo.Metrics
	validate *validator.Validate
	l        *applogger.Logger
}

func NewHitsHandler(topic string, svc *FitService, metrics drepo.Metrics, l *applogger.Logger) *HitsHandler {
	return newHitsHandler(topic, svc, metrics, l)
}

func newHitsHandler(topic string, svc hitFitter, metrics drepo.Metrics, l *applogger.Logger) *HitsHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &HitsHandler{
		topic:    topic,
		svc:      svc,
		metrics:  metrics,
		validate: validator.New(),
		l:        l,
	}
}

func (h *HitsHandler) Topic() string { return h.topic }

// Handle decodes one event. Malformed events are rejected with a
// *pkgkafka.HookError so the consumer sends them to the DLQ without retrying.
func (h *HitsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.HitEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.HookError{Code: "invalid_json", Err: err}
	}
	if err := defaults.Set(&ev); err != nil {
		return &pkgkafka.HookError{Code: "invalid_hit", Err: err}
	}
	if err := h.validate.StructCtx(ctx, &ev); err != nil {
		h.metrics.RecordError("consumer_validate")
		return &pkgkafka.HookError{Code: "invalid_hit", Err: err}
	}

	res, err := h.svc.FitHit(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return &pkgkafka.HookError{Code: "invalid_hit", Err: err}
		}
		return err
	}
	if res.Duplicate {
		return nil
	}
	h.l.Debug("hit fitted",
		applogger.String("event_id", ev.EventID),
		applogger.Bool("grid_ok", res.Grid.Success),
		applogger.Bool("diagonal_ok", res.Diagonal.Success),
		applogger.Int("outliers_removed", res.OutliersRemoved),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*HitsHandler)(nil)
