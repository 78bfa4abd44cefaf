package errhandler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type recordingAuditor struct {
	rejections []Rejection
	err        error
}

func (a *recordingAuditor) Record(_ context.Context, r Rejection) error {
	a.rejections = append(a.rejections, r)
	return a.err
}

var rec = extract.Record{Key: []byte("k"), Value: []byte("v"), Topic: "logs", Partition: 1, Offset: 7}

func TestHaltPolicy(t *testing.T) {
	dlq := &recordingPublisher{}
	h := New(config.ErrorsConfig{}, dlq, nil)
	h.Processed()

	decision, err := h.Handle(context.Background(), "logs", rec, apperrors.ErrMissingID)
	assert.Equal(t, Halt, decision)
	assert.ErrorIs(t, err, apperrors.ErrMissingID)
	assert.Contains(t, err.Error(), "logs-1-7")
	assert.Empty(t, dlq.events)
}

func TestNonRecordFaultsAlwaysHalt(t *testing.T) {
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1}, nil, nil)

	decision, err := h.Handle(context.Background(), "logs", rec,
		apperrors.New(apperrors.ErrUnknownStream, apperrors.KindConfig, "topic"))
	assert.Equal(t, Halt, decision)
	assert.ErrorIs(t, err, apperrors.ErrUnknownStream)

	decision, _ = h.Handle(context.Background(), "logs", rec, errors.New("unexpected"))
	assert.Equal(t, Halt, decision)
}

func TestDropPolicyDeadLettersAndAudits(t *testing.T) {
	dlq := &recordingPublisher{}
	audit := &recordingAuditor{}
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1}, dlq, audit)
	h.Processed()

	fault := apperrors.Newf(apperrors.ErrDecodeBinaryKey, apperrors.KindDecode, "bad tag")
	decision, err := h.Handle(context.Background(), "logs", rec, fault)
	require.NoError(t, err)
	assert.Equal(t, Drop, decision)

	require.Len(t, dlq.events, 1)
	ev := dlq.events[0]
	assert.Equal(t, rec.Key, ev.Key)
	assert.Equal(t, rec.Value, ev.Value)
	assert.Equal(t, map[string]string{
		HeaderStream:    "logs",
		HeaderTopic:     "logs",
		HeaderPartition: "1",
		HeaderOffset:    "7",
		HeaderFaultKind: "decode",
		HeaderFault:     fault.Error(),
	}, ev.Headers)

	require.Len(t, audit.rejections, 1)
	assert.Equal(t, apperrors.KindDecode, audit.rejections[0].Kind)

	processed, dropped := h.Counts()
	assert.EqualValues(t, 1, processed)
	assert.EqualValues(t, 1, dropped)
}

func TestDropPolicyAuditFailureStillDrops(t *testing.T) {
	audit := &recordingAuditor{err: errors.New("db down")}
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1}, nil, audit)
	h.Processed()

	decision, err := h.Handle(context.Background(), "logs", rec, apperrors.ErrMissingDocument)
	assert.NoError(t, err)
	assert.Equal(t, Drop, decision)
}

func TestDropPolicyDeadLetterFailureHalts(t *testing.T) {
	dlq := &recordingPublisher{err: errors.New("broker unavailable")}
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1}, dlq, nil)
	h.Processed()

	decision, err := h.Handle(context.Background(), "logs", rec, apperrors.ErrMissingDocument)
	assert.Equal(t, Halt, decision)
	assert.ErrorContains(t, err, "broker unavailable")

	_, dropped := h.Counts()
	assert.Zero(t, dropped, "a record that was not dead-lettered is not dropped")
}

func TestDropRatio(t *testing.T) {
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 0.2, DropMinRecords: 10}, nil, nil)
	ctx := context.Background()

	// Below the minimum the ratio is not enforced.
	for i := 0; i < 3; i++ {
		h.Processed()
		decision, err := h.Handle(ctx, "logs", rec, apperrors.ErrMissingID)
		require.NoError(t, err)
		assert.Equal(t, Drop, decision)
	}

	for i := 0; i < 17; i++ {
		h.Processed()
	}
	// 4 of 20 is at the limit.
	decision, err := h.Handle(ctx, "logs", rec, apperrors.ErrMissingID)
	require.NoError(t, err)
	assert.Equal(t, Drop, decision)

	// 5 of 20 exceeds it.
	decision, err = h.Handle(ctx, "logs", rec, apperrors.ErrMissingID)
	assert.Equal(t, Halt, decision)
	assert.ErrorIs(t, err, apperrors.ErrMissingID)

	processed, dropped := h.Counts()
	assert.EqualValues(t, 20, processed)
	assert.EqualValues(t, 4, dropped, "the halting record is not counted as dropped")
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "drop", Drop.String())
	assert.Equal(t, "halt", Halt.String())
}

func rejectedOp() *action.WriteOperation {
	return &action.WriteOperation{
		Key:      action.Key{Action: action.ActionIndex, ID: action.String("a")},
		Index:    "logs-2023.11.14",
		Document: action.String(`{"a":1}`),
		Source: action.Source{
			Stream: "logs", Topic: "logs", Partition: 1, Offset: 7,
			Key: []byte("a"), Value: []byte(`{"a":1}`),
		},
	}
}

func TestRejectedWriteHaltsByDefault(t *testing.T) {
	dlq := &recordingPublisher{}
	h := New(config.ErrorsConfig{}, dlq, nil)
	h.Processed()

	cause := fmt.Errorf("%w: mapper_parsing_exception", apperrors.ErrBulkRejected)
	err := h.HandleRejectedWrite(context.Background(), rejectedOp(), cause)
	assert.ErrorIs(t, err, apperrors.ErrBulkRejected)
	assert.Contains(t, err.Error(), "logs-1-7")
	assert.Empty(t, dlq.events)
}

func TestRejectedWriteIsDeadLetteredWhenDropping(t *testing.T) {
	dlq := &recordingPublisher{}
	audit := &recordingAuditor{}
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1}, dlq, audit)
	h.Processed()

	cause := fmt.Errorf("%w: mapper_parsing_exception", apperrors.ErrBulkRejected)
	require.NoError(t, h.HandleRejectedWrite(context.Background(), rejectedOp(), cause))

	require.Len(t, dlq.events, 1)
	ev := dlq.events[0]
	assert.Equal(t, []byte("a"), ev.Key)
	assert.Equal(t, []byte(`{"a":1}`), ev.Value)
	assert.Equal(t, "index", ev.Headers[HeaderFaultKind])
	assert.Equal(t, "7", ev.Headers[HeaderOffset])

	require.Len(t, audit.rejections, 1)
	assert.Equal(t, apperrors.KindIndex, audit.rejections[0].Kind)

	_, dropped := h.Counts()
	assert.EqualValues(t, 1, dropped)
}

func TestRejectedWriteRespectsDropRatio(t *testing.T) {
	h := New(config.ErrorsConfig{DropOnError: true, DropMaxRatio: 0.5, DropMinRecords: 2}, nil, nil)
	h.Processed()
	h.Processed()
	ctx := context.Background()

	require.NoError(t, h.HandleRejectedWrite(ctx, rejectedOp(), apperrors.ErrBulkRejected))
	err := h.HandleRejectedWrite(ctx, rejectedOp(), apperrors.ErrBulkRejected)
	assert.ErrorContains(t, err, "exceeds")

	_, dropped := h.Counts()
	assert.EqualValues(t, 1, dropped)
}
