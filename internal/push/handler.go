package push

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/assembler"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/push/errhandler"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/metrics"
)

// Handler processes consumed messages. HandleMessage satisfies
// kafka.MessageHandler.
type Handler struct {
	router  *Router
	sink    assembler.Sink
	errs    *errhandler.Handler
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHandler creates a Handler. m may be nil.
func NewHandler(router *Router, sink assembler.Sink, errs *errhandler.Handler, m *metrics.Metrics) *Handler {
	return &Handler{
		router:  router,
		sink:    sink,
		errs:    errs,
		metrics: m,
		now:     time.Now,
	}
}

// HandleMessage assembles msg and adds the result to the sink. A returned
// error halts the stream.
func (h *Handler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx = logger.WithRecord(ctx, msg.Topic, msg.Partition, msg.Offset)
	rec := extract.Record{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	stream, err := h.router.Route(msg.Topic)
	if err != nil {
		_, haltErr := h.errs.Handle(ctx, msg.Topic, rec, err)
		h.observe(msg.Topic, metrics.ResultHalted)
		return haltErr
	}

	h.errs.Processed()
	nowMs := h.now().UnixMilli()
	op, err := stream.Assembler.Assemble(rec, nowMs)
	if err != nil {
		if h.metrics != nil {
			h.metrics.FaultsTotal.WithLabelValues(stream.Name, faultKind(err)).Inc()
		}
		decision, haltErr := h.errs.Handle(ctx, stream.Name, rec, err)
		if decision == errhandler.Halt {
			h.observe(stream.Name, metrics.ResultHalted)
			return haltErr
		}
		h.observe(stream.Name, metrics.ResultDropped)
		return nil
	}

	op.Source.Stream = stream.Name
	if err := h.sink.Add(ctx, op); err != nil {
		h.observe(stream.Name, metrics.ResultHalted)
		return fmt.Errorf("stream %s: %w", stream.Name, err)
	}
	h.observe(stream.Name, metrics.ResultOK)
	if h.metrics != nil {
		h.metrics.ActionsTotal.WithLabelValues(stream.Name, op.Key.Action.String()).Inc()
		if op.Key.EventTsUnixMs != nil {
			h.metrics.LagFromEventMs.WithLabelValues(stream.Name).Observe(float64(nowMs - *op.Key.EventTsUnixMs))
		}
	}
	logger.FromContext(ctx).Debug("record assembled",
		"stream", stream.Name,
		"action", op.Key.Action.String(),
		"index", op.Index,
	)
	return nil
}

func (h *Handler) observe(stream, result string) {
	if h.metrics != nil {
		h.metrics.RecordsTotal.WithLabelValues(stream, result).Inc()
	}
}

func faultKind(err error) string {
	return apperrors.KindOf(err).String()
}
