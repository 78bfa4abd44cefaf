// Package action defines the canonical description of one search-index write
// (Key), the per-stream index configuration (IndexSpec), and the pure steps
// that turn a raw key into a WriteOperation: validation, index-name
// resolution and document-body transformation.
package action

import (
	"fmt"
	"strings"
)

// Action is the bulk operation type. The zero value means unset.
type Action uint8

const (
	ActionUnset Action = iota
	ActionIndex
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionIndex:
		return "INDEX"
	case ActionUpdate:
		return "UPDATE"
	case ActionDelete:
		return "DELETE"
	default:
		return "UNSET"
	}
}

// BulkName is the operation name used in bulk request metadata lines.
func (a Action) BulkName() string {
	return strings.ToLower(a.String())
}

// ParseAction matches s case-insensitively against the action names.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INDEX":
		return ActionIndex, nil
	case "UPDATE":
		return ActionUpdate, nil
	case "DELETE":
		return ActionDelete, nil
	default:
		return ActionUnset, fmt.Errorf("unknown action %q", s)
	}
}

// VersionType selects how the backend compares document versions. The zero
// value means unset.
type VersionType uint8

const (
	VersionTypeUnset VersionType = iota
	VersionTypeInternal
	VersionTypeExternal
	VersionTypeExternalGTE
	VersionTypeForce
)

func (v VersionType) String() string {
	switch v {
	case VersionTypeInternal:
		return "INTERNAL"
	case VersionTypeExternal:
		return "EXTERNAL"
	case VersionTypeExternalGTE:
		return "EXTERNAL_GTE"
	case VersionTypeForce:
		return "FORCE"
	default:
		return "UNSET"
	}
}

// BulkName is the version_type value used in bulk request metadata lines.
func (v VersionType) BulkName() string {
	return strings.ToLower(v.String())
}

// ParseVersionType matches s case-insensitively against the version type
// names.
func ParseVersionType(s string) (VersionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INTERNAL":
		return VersionTypeInternal, nil
	case "EXTERNAL":
		return VersionTypeExternal, nil
	case "EXTERNAL_GTE":
		return VersionTypeExternalGTE, nil
	case "FORCE":
		return VersionTypeForce, nil
	default:
		return VersionTypeUnset, fmt.Errorf("unknown version type %q", s)
	}
}

// Key describes one write operation. Optional fields are nil when unset.
// A Key returned by Validate is canonical and must not be modified.
type Key struct {
	Action            Action
	ID                *string
	Version           *int64
	VersionType       VersionType
	PartitionTsUnixMs *int64
	EventTsUnixMs     *int64
}

// WriteOperation is the single-use output of the pipeline for one record.
type WriteOperation struct {
	Key        Key
	Index      string
	DocType    string
	IngestTsMs int64
	// Document is nil for deletes.
	Document *string
	// Source is the record the operation was built from, kept so a write the
	// index refuses can still be dead-lettered.
	Source Source
}

// Source locates the input record behind a WriteOperation.
type Source struct {
	Stream    string
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }
