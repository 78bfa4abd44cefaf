package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/push/errhandler"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/metrics"
)

type memorySink struct {
	mu  sync.Mutex
	ops []*action.WriteOperation
	err error
}

func (s *memorySink) Add(_ context.Context, op *action.WriteOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ops = append(s.ops, op)
	return nil
}

func newTestHandler(t *testing.T, policy config.ErrorsConfig) (*Handler, *memorySink, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{
		Streams: map[string]config.StreamConfig{
			"logs": {
				MetadataSrc:         "key_json",
				IndexNamePrefix:     "logs-",
				IndexNameDateFormat: "yyyy.MM.dd",
				IndexNameDateZone:   "UTC",
			},
		},
	}
	router, err := NewRouter(cfg, testCodecs())
	require.NoError(t, err)

	sink := &memorySink{}
	m := metrics.New(prometheus.NewRegistry())
	h := NewHandler(router, sink, errhandler.New(policy, nil, nil), m)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h, sink, m
}

func TestHandleMessageAddsOperation(t *testing.T) {
	h, sink, m := newTestHandler(t, config.ErrorsConfig{})

	err := h.HandleMessage(context.Background(), kafka.Message{
		Topic: "logs", Partition: 0, Offset: 3,
		Key:   []byte(`{"action":"index","id":"a","event_ts_unix_ms":1699999999000}`),
		Value: []byte(`{"msg":"hello"}`),
	})
	require.NoError(t, err)

	require.Len(t, sink.ops, 1)
	op := sink.ops[0]
	assert.Equal(t, "logs-2023.11.14", op.Index)
	assert.Equal(t, "a", *op.Key.ID)
	assert.Equal(t, int64(1700000000000), op.IngestTsMs)
	assert.Equal(t, "logs", op.Source.Stream)
	assert.EqualValues(t, 3, op.Source.Offset)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("logs", "INDEX")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LagFromEventMs))
}

func TestHandleMessageHaltsByDefault(t *testing.T) {
	h, sink, m := newTestHandler(t, config.ErrorsConfig{})

	err := h.HandleMessage(context.Background(), kafka.Message{
		Topic: "logs",
		Key:   []byte(`{"action":"delete"}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMissingID)
	assert.Empty(t, sink.ops)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs", metrics.ResultHalted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaultsTotal.WithLabelValues("logs", "validation")))
}

func TestHandleMessageDropsWhenConfigured(t *testing.T) {
	h, sink, m := newTestHandler(t, config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1})

	err := h.HandleMessage(context.Background(), kafka.Message{
		Topic: "logs",
		Key:   []byte(`not json`),
		Value: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Empty(t, sink.ops)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs", metrics.ResultDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FaultsTotal.WithLabelValues("logs", "decode")))
}

func TestHandleMessageUnknownTopicHalts(t *testing.T) {
	h, _, _ := newTestHandler(t, config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1})

	err := h.HandleMessage(context.Background(), kafka.Message{Topic: "other", Value: []byte(`{}`)})
	assert.ErrorIs(t, err, apperrors.ErrUnknownStream)
}

func TestHandleMessageHaltsWhenSinkRefuses(t *testing.T) {
	h, sink, m := newTestHandler(t, config.ErrorsConfig{DropOnError: true, DropMaxRatio: 1})
	sink.err = apperrors.ErrBulkRejected

	err := h.HandleMessage(context.Background(), kafka.Message{
		Topic: "logs",
		Key:   []byte(`{"action":"index","id":"a"}`),
		Value: []byte(`{}`),
	})
	assert.ErrorIs(t, err, apperrors.ErrBulkRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs", metrics.ResultHalted)))
	assert.Zero(t, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs", metrics.ResultOK)))
}
