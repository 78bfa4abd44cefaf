// Package assembler turns one input record into one WriteOperation by
// running the bound extraction strategy, validation, index-name resolution
// and document transformation in that order. A fault at any step rejects the
// record; no partial operation is produced.
package assembler

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
)

// Sink accepts finished operations. Add must not block on network I/O, but
// may wait for buffer space until ctx is done. An error means op was not
// accepted and the stream must stop.
type Sink interface {
	Add(ctx context.Context, op *action.WriteOperation) error
}

// Assembler is bound to one stream. It holds only read-only state and is
// safe for concurrent use.
type Assembler struct {
	spec      *action.IndexSpec
	extractor extract.Extractor
}

// New binds an assembler to spec, choosing the extraction strategy once.
func New(spec *action.IndexSpec, codecs extract.Codecs) (*Assembler, error) {
	extractor, err := extract.New(spec.MetadataSrc, codecs)
	if err != nil {
		return nil, fmt.Errorf("binding extractor: %w", err)
	}
	return &Assembler{spec: spec, extractor: extractor}, nil
}

// Spec returns the stream's index spec.
func (a *Assembler) Spec() *action.IndexSpec {
	return a.spec
}

// Assemble builds the write operation for rec. Extraction and validation
// faults are returned unchanged so callers can classify them.
func (a *Assembler) Assemble(rec extract.Record, nowMs int64) (*action.WriteOperation, error) {
	raw, doc, err := a.extractor.Extract(rec)
	if err != nil {
		return nil, err
	}
	key, err := action.Validate(raw, doc, a.spec, rec.SourceID(), nowMs)
	if err != nil {
		return nil, err
	}
	return &action.WriteOperation{
		Key:        key,
		Index:      a.spec.ResolveIndex(key),
		DocType:    a.spec.DocType,
		IngestTsMs: nowMs,
		Document:   action.DocumentFor(key, doc),
		Source: action.Source{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
		},
	}, nil
}
