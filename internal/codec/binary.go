// Package codec decodes the structured key encodings carried by input
// records: a compact binary form in protobuf wire format, and a JSON form.
// The JSON codec also round-trips the generic documents used by the
// embedded-metadata strategy. Codecs hold no mutable state; one instance is
// built at startup and shared.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
)

// Field numbers of the binary key message.
const (
	fieldAction            protowire.Number = 1
	fieldID                protowire.Number = 2
	fieldVersion           protowire.Number = 3
	fieldVersionType       protowire.Number = 4
	fieldPartitionTsUnixMs protowire.Number = 5
	fieldEventTsUnixMs     protowire.Number = 6
)

// Binary encodes keys as a protobuf message. Absent fields are unset, and
// unknown fields are skipped so producers can add fields first.
type Binary struct{}

// NewBinary returns the binary key codec.
func NewBinary() *Binary {
	return &Binary{}
}

// DecodeKey parses b into a raw key.
func (Binary) DecodeKey(b []byte) (action.Key, error) {
	var key action.Key
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return action.Key{}, fmt.Errorf("reading tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return action.Key{}, fmt.Errorf("reading id: %w", protowire.ParseError(n))
			}
			key.ID = action.String(string(v))
			b = b[n:]
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return action.Key{}, fmt.Errorf("reading field %d: %w", num, protowire.ParseError(n))
			}
			if err := setVarintField(&key, num, v); err != nil {
				return action.Key{}, err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return action.Key{}, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return key, nil
}

// EncodeKey serializes key, omitting unset fields.
func (Binary) EncodeKey(key action.Key) []byte {
	var b []byte
	if key.Action != action.ActionUnset {
		b = protowire.AppendTag(b, fieldAction, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(key.Action))
	}
	if key.ID != nil {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, *key.ID)
	}
	if key.Version != nil {
		b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*key.Version))
	}
	if key.VersionType != action.VersionTypeUnset {
		b = protowire.AppendTag(b, fieldVersionType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(key.VersionType))
	}
	if key.PartitionTsUnixMs != nil {
		b = protowire.AppendTag(b, fieldPartitionTsUnixMs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*key.PartitionTsUnixMs))
	}
	if key.EventTsUnixMs != nil {
		b = protowire.AppendTag(b, fieldEventTsUnixMs, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*key.EventTsUnixMs))
	}
	return b
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldAction, fieldVersion, fieldVersionType, fieldPartitionTsUnixMs, fieldEventTsUnixMs:
		return true
	default:
		return false
	}
}

func setVarintField(key *action.Key, num protowire.Number, v uint64) error {
	switch num {
	case fieldAction:
		if v < uint64(action.ActionIndex) || v > uint64(action.ActionDelete) {
			return fmt.Errorf("action enum value %d out of range", v)
		}
		key.Action = action.Action(v)
	case fieldVersion:
		key.Version = action.Int64(int64(v))
	case fieldVersionType:
		if v < uint64(action.VersionTypeInternal) || v > uint64(action.VersionTypeForce) {
			return fmt.Errorf("version_type enum value %d out of range", v)
		}
		key.VersionType = action.VersionType(v)
	case fieldPartitionTsUnixMs:
		key.PartitionTsUnixMs = action.Int64(int64(v))
	case fieldEventTsUnixMs:
		key.EventTsUnixMs = action.Int64(int64(v))
	}
	return nil
}
