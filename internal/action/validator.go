package action

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

// ValidationError reports the field a key is missing and the action that
// requires it.
type ValidationError struct {
	Field  string
	Action Action
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q is required for %s actions", e.Err.Error(), e.Field, e.Action)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate normalizes raw into a canonical key for spec, or rejects it.
// The rules apply in order because later ones depend on defaults set by
// earlier ones. raw is not modified.
func Validate(raw Key, doc *string, spec *IndexSpec, fallbackID string, nowMs int64) (Key, error) {
	key := raw

	if key.Action == ActionUnset {
		key.Action = ActionIndex
	}

	switch key.Action {
	case ActionIndex:
		if key.ID == nil {
			key.ID = String(fallbackID)
		}
		if key.PartitionTsUnixMs == nil {
			key.PartitionTsUnixMs = Int64(nowMs)
		}
	case ActionUpdate, ActionDelete:
		if key.ID == nil {
			return Key{}, &ValidationError{Field: "id", Action: key.Action, Err: apperrors.ErrMissingID}
		}
		if spec.TimePartitioned() && key.PartitionTsUnixMs == nil {
			return Key{}, &ValidationError{Field: "partition_ts_unix_ms", Action: key.Action, Err: apperrors.ErrMissingPartitionTimestamp}
		}
	}

	if key.VersionType == VersionTypeUnset {
		key.VersionType = spec.DefaultVersionType
	}

	if doc == nil && key.Action != ActionDelete {
		return Key{}, &ValidationError{Field: "document", Action: key.Action, Err: apperrors.ErrMissingDocument}
	}
	return key, nil
}
