package extract

import (
	"encoding/json"
	"math"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

// PlainID uses the record key text as the document id of an INDEX action.
type PlainID struct{}

func (PlainID) Extract(rec Record) (action.Key, *string, error) {
	key := action.Key{Action: action.ActionIndex}
	if rec.Key != nil {
		key.ID = action.String(string(rec.Key))
	}
	return key, documentOf(rec), nil
}

// StructuredKey decodes the record key with a structured codec. A record
// without key bytes yields an empty key; malformed bytes are a decode fault
// tagged with the codec's sentinel.
type StructuredKey struct {
	decoder KeyDecoder
	fault   error
}

func (s *StructuredKey) Extract(rec Record) (action.Key, *string, error) {
	if rec.Key == nil {
		return action.Key{}, documentOf(rec), nil
	}
	key, err := s.decoder.DecodeKey(rec.Key)
	if err != nil {
		return action.Key{}, nil, apperrors.Newf(s.fault, apperrors.KindDecode, "%v", err)
	}
	return key, documentOf(rec), nil
}

// Metadata fields lifted out of embedded documents.
const (
	fieldID          = "_id"
	fieldVersion     = "_version"
	fieldVersionType = "_version_type"
	fieldTimestamp   = "@timestamp"
)

// Embedded reads metadata from top-level fields of the document and removes
// them before the document is written. Fields with an unexpected type are
// left in the document. Embedded metadata always describes an INDEX.
type Embedded struct {
	codec DocumentCodec
}

func (e *Embedded) Extract(rec Record) (action.Key, *string, error) {
	key := action.Key{Action: action.ActionIndex}
	if rec.Value == nil {
		return key, nil, nil
	}
	doc, err := e.codec.DecodeMap(rec.Value)
	if err != nil {
		return action.Key{}, nil, apperrors.Newf(apperrors.ErrDecodeDocument, apperrors.KindDecode, "%v", err)
	}

	if id, ok := doc[fieldID].(string); ok {
		key.ID = action.String(id)
		delete(doc, fieldID)
	}
	if version, ok := asInt64(doc[fieldVersion]); ok {
		key.Version = action.Int64(version)
		delete(doc, fieldVersion)
	}
	if name, ok := doc[fieldVersionType].(string); ok {
		vt, err := action.ParseVersionType(name)
		if err != nil {
			return action.Key{}, nil, apperrors.Newf(apperrors.ErrDecodeDocument, apperrors.KindDecode, "%s: %v", fieldVersionType, err)
		}
		key.VersionType = vt
		delete(doc, fieldVersionType)
	}
	if ts, ok := asInt64(doc[fieldTimestamp]); ok {
		key.PartitionTsUnixMs = action.Int64(ts)
		key.EventTsUnixMs = action.Int64(ts)
		delete(doc, fieldTimestamp)
	}

	body, err := e.codec.EncodeMap(doc)
	if err != nil {
		return action.Key{}, nil, apperrors.Newf(apperrors.ErrDecodeDocument, apperrors.KindDecode, "%v", err)
	}
	return key, &body, nil
}

// asInt64 accepts any JSON number. Fractional values are truncated toward
// zero and values beyond the int64 range saturate.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil && !math.IsInf(f, 0) {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	default:
		return int64(f), true
	}
}
