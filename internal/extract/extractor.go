// Package extract implements the four strategies that pull write metadata
// and the document body out of an input record. Exactly one strategy is
// bound per stream at startup; record processing never branches on the
// metadata source.
package extract

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

// Record is one input record and its stream coordinates.
type Record struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
}

// SourceID identifies the record by its stream coordinates. It is the
// document id for INDEX actions whose key carries none.
func (r Record) SourceID() string {
	return fmt.Sprintf("%s-%d-%d", r.Topic, r.Partition, r.Offset)
}

// Extractor produces a raw key and the raw document (nil when absent).
type Extractor interface {
	Extract(rec Record) (action.Key, *string, error)
}

// KeyDecoder decodes a structured key.
type KeyDecoder interface {
	DecodeKey(b []byte) (action.Key, error)
}

// DocumentCodec converts between document bytes and a generic mapping.
type DocumentCodec interface {
	DecodeMap(b []byte) (map[string]any, error)
	EncodeMap(m map[string]any) (string, error)
}

// Codecs are the shared codec instances strategies are bound to.
type Codecs struct {
	Binary   KeyDecoder
	JSON     KeyDecoder
	Document DocumentCodec
}

// New binds the strategy for src.
func New(src action.MetadataSource, codecs Codecs) (Extractor, error) {
	switch src {
	case action.SourceKeyDocID:
		return PlainID{}, nil
	case action.SourceKeyBinary:
		if codecs.Binary == nil {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.KindConfig, "binary key codec is required for key_binary")
		}
		return &StructuredKey{decoder: codecs.Binary, fault: apperrors.ErrDecodeBinaryKey}, nil
	case action.SourceKeyJSON:
		if codecs.JSON == nil {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.KindConfig, "json key codec is required for key_json")
		}
		return &StructuredKey{decoder: codecs.JSON, fault: apperrors.ErrDecodeTextKey}, nil
	case action.SourceEmbedded:
		if codecs.Document == nil {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.KindConfig, "document codec is required for embedded")
		}
		return &Embedded{codec: codecs.Document}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.KindConfig, "unknown metadataSrc %q", src)
	}
}

func documentOf(rec Record) *string {
	if rec.Value == nil {
		return nil
	}
	doc := string(rec.Value)
	return &doc
}
