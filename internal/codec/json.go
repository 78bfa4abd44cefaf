package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
)

// JSON decodes keys written as JSON objects and round-trips generic
// documents. Numbers are kept as json.Number so that large integers survive
// a decode/encode cycle unchanged.
type JSON struct{}

// NewJSON returns the JSON codec.
func NewJSON() *JSON {
	return &JSON{}
}

type jsonKey struct {
	Action            *string `json:"action"`
	ID                *string `json:"id"`
	Version           *int64  `json:"version"`
	VersionType       *string `json:"version_type"`
	PartitionTsUnixMs *int64  `json:"partition_ts_unix_ms"`
	EventTsUnixMs     *int64  `json:"event_ts_unix_ms"`
}

// DecodeKey parses a JSON key. Missing and null fields are unset; enum
// names match case-insensitively.
func (JSON) DecodeKey(b []byte) (action.Key, error) {
	var wire jsonKey
	if err := json.Unmarshal(b, &wire); err != nil {
		return action.Key{}, fmt.Errorf("unmarshaling key: %w", err)
	}
	key := action.Key{
		ID:                wire.ID,
		Version:           wire.Version,
		PartitionTsUnixMs: wire.PartitionTsUnixMs,
		EventTsUnixMs:     wire.EventTsUnixMs,
	}
	if wire.Action != nil {
		a, err := action.ParseAction(*wire.Action)
		if err != nil {
			return action.Key{}, err
		}
		key.Action = a
	}
	if wire.VersionType != nil {
		vt, err := action.ParseVersionType(*wire.VersionType)
		if err != nil {
			return action.Key{}, err
		}
		key.VersionType = vt
	}
	return key, nil
}

// EncodeKey serializes key, omitting unset fields.
func (JSON) EncodeKey(key action.Key) ([]byte, error) {
	wire := make(map[string]any, 6)
	if key.Action != action.ActionUnset {
		wire["action"] = key.Action.String()
	}
	if key.ID != nil {
		wire["id"] = *key.ID
	}
	if key.Version != nil {
		wire["version"] = *key.Version
	}
	if key.VersionType != action.VersionTypeUnset {
		wire["version_type"] = key.VersionType.String()
	}
	if key.PartitionTsUnixMs != nil {
		wire["partition_ts_unix_ms"] = *key.PartitionTsUnixMs
	}
	if key.EventTsUnixMs != nil {
		wire["event_ts_unix_ms"] = *key.EventTsUnixMs
	}
	return json.Marshal(wire)
}

// DecodeMap parses b as a single JSON object.
func (JSON) DecodeMap(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	if m == nil {
		return nil, errors.New("document is not a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after document")
	}
	return m, nil
}

// EncodeMap serializes m with keys in sorted order and without HTML
// escaping.
func (JSON) EncodeMap(m map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return "", fmt.Errorf("marshaling document: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
