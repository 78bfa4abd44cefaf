// Package errhandler decides what happens to a record that the assembler
// rejected. Under the halt policy every fault stops the stream. Under the
// drop policy the record is logged, dead-lettered and audited, and the stream
// only halts once the share of dropped records grows past a limit.
package errhandler

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/logger"
)

// Dead-letter record headers.
const (
	HeaderStream    = "espush-stream"
	HeaderTopic     = "espush-topic"
	HeaderPartition = "espush-partition"
	HeaderOffset    = "espush-offset"
	HeaderFaultKind = "espush-fault-kind"
	HeaderFault     = "espush-fault"
)

// Rejection describes one rejected record.
type Rejection struct {
	Stream string
	Record extract.Record
	Kind   apperrors.Kind
	Err    error
}

// Publisher writes dead-letter records. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Auditor stores rejections. *AuditStore implements it.
type Auditor interface {
	Record(ctx context.Context, r Rejection) error
}

// Decision is the outcome for a rejected record.
type Decision int

const (
	Halt Decision = iota
	Drop
)

func (d Decision) String() string {
	if d == Drop {
		return "drop"
	}
	return "halt"
}

// Handler applies the configured error policy. It is safe for concurrent use.
type Handler struct {
	policy     config.ErrorsConfig
	deadLetter Publisher
	audit      Auditor

	mu        sync.Mutex
	processed int64
	dropped   int64
}

// New creates a Handler. deadLetter and audit may be nil.
func New(policy config.ErrorsConfig, deadLetter Publisher, audit Auditor) *Handler {
	return &Handler{
		policy:     policy,
		deadLetter: deadLetter,
		audit:      audit,
	}
}

// Processed counts a record that reached the assembler, whatever its
// outcome. The drop ratio is measured against this count.
func (h *Handler) Processed() {
	h.mu.Lock()
	h.processed++
	h.mu.Unlock()
}

// Counts returns the processed and dropped totals.
func (h *Handler) Counts() (processed, dropped int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed, h.dropped
}

// Handle decides the fate of a record rejected with err. When the decision is
// Halt the returned error explains why; a failed dead-letter publish also
// halts because the record would otherwise be lost.
func (h *Handler) Handle(ctx context.Context, stream string, rec extract.Record, err error) (Decision, error) {
	log := logger.FromContext(ctx).With("stream", stream)
	kind := apperrors.KindOf(err)

	if !apperrors.IsRecordFault(err) {
		log.Error("non-record fault, halting", "kind", kind.String(), "error", err)
		return Halt, err
	}
	if !h.policy.DropOnError {
		log.Error("rejected record, halting", "kind", kind.String(), "error", err)
		return Halt, fmt.Errorf("record %s rejected: %w", rec.SourceID(), err)
	}

	if exceeded, ratio := h.exceedsRatio(); exceeded {
		log.Error("drop ratio exceeded, halting",
			"ratio", ratio,
			"max_ratio", h.policy.DropMaxRatio,
			"error", err,
		)
		return Halt, fmt.Errorf("dropped ratio %.4f exceeds %.4f: %w", ratio, h.policy.DropMaxRatio, err)
	}

	log.Warn("dropping rejected record", "kind", kind.String(), "error", err)
	if dropErr := h.drop(ctx, Rejection{Stream: stream, Record: rec, Kind: kind, Err: err}); dropErr != nil {
		return Halt, dropErr
	}
	return Drop, nil
}

// HandleRejectedWrite applies the policy to an operation the index refused
// after it left the stream. Under the halt policy, or once the drop ratio is
// exceeded, the returned error must stop the stream. Otherwise the source
// record is dead-lettered and audited like any dropped record.
func (h *Handler) HandleRejectedWrite(ctx context.Context, op *action.WriteOperation, err error) error {
	src := op.Source
	rec := extract.Record{
		Key:       src.Key,
		Value:     src.Value,
		Topic:     src.Topic,
		Partition: src.Partition,
		Offset:    src.Offset,
	}
	log := logger.FromContext(ctx).With(
		"stream", src.Stream,
		"topic", src.Topic,
		"partition", src.Partition,
		"offset", src.Offset,
		"index", op.Index,
	)

	if !h.policy.DropOnError {
		log.Error("index rejected write, halting", "error", err)
		return fmt.Errorf("record %s rejected by index: %w", rec.SourceID(), err)
	}
	if exceeded, ratio := h.exceedsRatio(); exceeded {
		log.Error("drop ratio exceeded, halting", "ratio", ratio, "max_ratio", h.policy.DropMaxRatio, "error", err)
		return fmt.Errorf("dropped ratio %.4f exceeds %.4f: %w", ratio, h.policy.DropMaxRatio, err)
	}

	log.Warn("dropping write rejected by index", "error", err)
	return h.drop(ctx, Rejection{Stream: src.Stream, Record: rec, Kind: apperrors.KindOf(err), Err: err})
}

// drop dead-letters and audits r. Only a dead-letter failure is returned;
// the record then counts as not dropped.
func (h *Handler) drop(ctx context.Context, r Rejection) error {
	if h.deadLetter != nil {
		if err := h.deadLetter.Publish(ctx, deadLetterEvent(r)); err != nil {
			return fmt.Errorf("dead-lettering record %s: %w", r.Record.SourceID(), err)
		}
	}
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()

	if h.audit != nil {
		if err := h.audit.Record(ctx, r); err != nil {
			logger.FromContext(ctx).Warn("failed to audit rejected record", "error", err)
		}
	}
	return nil
}

// exceedsRatio reports whether dropping one more record would push the
// dropped share past the limit.
func (h *Handler) exceedsRatio() (bool, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.processed == 0 {
		return false, 0
	}
	ratio := float64(h.dropped+1) / float64(h.processed)
	if h.processed < h.policy.DropMinRecords {
		return false, ratio
	}
	return ratio > h.policy.DropMaxRatio, ratio
}

func deadLetterEvent(r Rejection) kafka.Event {
	return kafka.Event{
		Key:   r.Record.Key,
		Value: r.Record.Value,
		Headers: map[string]string{
			HeaderStream:    r.Stream,
			HeaderTopic:     r.Record.Topic,
			HeaderPartition: strconv.Itoa(r.Record.Partition),
			HeaderOffset:    strconv.FormatInt(r.Record.Offset, 10),
			HeaderFaultKind: r.Kind.String(),
			HeaderFault:     r.Err.Error(),
		},
	}
}
