package dispatch

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/errs"
	"github.com/jojees/project-genesis/internal/metrics"
	"github.com/jojees/project-genesis/internal/model"
	"github.com/jojees/project-genesis/internal/store"
)

// seenCacheSize bounds the in-memory dedup cache. The database primary key
// stays the source of truth; the cache only saves round trips on tight
// redelivery loops.
const seenCacheSize = 4096

// AlertWriter persists one alert and reports whether the row was inserted
// or already existed.
type AlertWriter interface {
	Write(ctx context.Context, alert *model.SecurityAlert) (store.Outcome, error)
}

// PersistenceDispatcher consumes security alerts and writes them to
// storage exactly once per alert_id.
type PersistenceDispatcher struct {
	writer  AlertWriter
	seen    *lru.Cache[string, bool]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPersistenceDispatcher(writer AlertWriter, m *metrics.Metrics, logger *zap.Logger) (*PersistenceDispatcher, error) {
	seen, err := lru.New[string, bool](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &PersistenceDispatcher{
		writer:  writer,
		seen:    seen,
		metrics: m,
		logger:  logger,
	}, nil
}

// Handle processes one alert delivery.
func (d *PersistenceDispatcher) Handle(ctx context.Context, payload []byte) Decision {
	d.metrics.MessagesConsumed.Inc()

	alert, err := model.DecodeAlert(payload)
	if err != nil {
		d.logger.Error("dropping undecodable alert",
			zap.Error(err),
			zap.Int("payload_bytes", len(payload)))
		return NackDrop
	}
	if alert.AlertID == "" {
		d.logger.Error("dropping alert without alert_id")
		return NackDrop
	}

	if _, ok := d.seen.Get(alert.AlertID); ok {
		d.metrics.AlertsPersisted.WithLabelValues(store.OutcomeDuplicate.String()).Inc()
		d.logger.Debug("alert seen recently, skipping write",
			zap.String("alert_id", alert.AlertID))
		return Ack
	}

	outcome, err := d.writer.Write(ctx, alert)
	if err != nil {
		if errs.IsMalformed(err) {
			d.logger.Error("dropping unpersistable alert",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
			return NackDrop
		}
		d.logger.Error("alert write failed, requeueing",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
		return NackRequeue
	}

	d.seen.Add(alert.AlertID, true)
	d.metrics.AlertsPersisted.WithLabelValues(outcome.String()).Inc()
	return Ack
}
