package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

const nowMs = int64(1700000000000)

func mustSpec(t *testing.T, cfg config.StreamConfig) *IndexSpec {
	t.Helper()
	if cfg.MetadataSrc == "" {
		cfg.MetadataSrc = string(SourceKeyJSON)
	}
	spec, err := NewIndexSpec(cfg)
	require.NoError(t, err)
	return spec
}

func TestValidateIndexDefaults(t *testing.T) {
	spec := mustSpec(t, config.StreamConfig{IndexNamePrefix: "logs"})
	doc := String(`{"a":1}`)

	key, err := Validate(Key{}, doc, spec, "t-0-42", nowMs)
	require.NoError(t, err)

	assert.Equal(t, ActionIndex, key.Action)
	require.NotNil(t, key.ID)
	assert.Equal(t, "t-0-42", *key.ID)
	require.NotNil(t, key.PartitionTsUnixMs)
	assert.Equal(t, nowMs, *key.PartitionTsUnixMs)
	assert.Nil(t, key.Version)
	assert.Nil(t, key.EventTsUnixMs)
}

func TestValidateKeepsProvidedFields(t *testing.T) {
	spec := mustSpec(t, config.StreamConfig{DefaultVersionType: "external"})
	raw := Key{
		Action:            ActionIndex,
		ID:                String("doc-1"),
		Version:           Int64(7),
		VersionType:       VersionTypeForce,
		PartitionTsUnixMs: Int64(1000),
		EventTsUnixMs:     Int64(900),
	}

	key, err := Validate(raw, String("{}"), spec, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, raw, key)
}

func TestValidateDoesNotModifyRaw(t *testing.T) {
	spec := mustSpec(t, config.StreamConfig{DefaultVersionType: "external"})
	raw := Key{}

	_, err := Validate(raw, String("{}"), spec, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, Key{}, raw)
}

func TestValidateDefaultVersionType(t *testing.T) {
	spec := mustSpec(t, config.StreamConfig{DefaultVersionType: "EXTERNAL_GTE"})

	key, err := Validate(Key{ID: String("a")}, String("{}"), spec, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, VersionTypeExternalGTE, key.VersionType)

	unset := mustSpec(t, config.StreamConfig{})
	key, err = Validate(Key{ID: String("a")}, String("{}"), unset, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, VersionTypeUnset, key.VersionType)
}

func TestValidateRejections(t *testing.T) {
	plain := mustSpec(t, config.StreamConfig{IndexNamePrefix: "docs"})
	dated := mustSpec(t, config.StreamConfig{
		IndexNamePrefix:     "logs-",
		IndexNameDateFormat: "yyyy.MM.dd",
		IndexNameDateZone:   "UTC",
	})

	tests := []struct {
		name    string
		key     Key
		doc     *string
		spec    *IndexSpec
		wantErr error
		field   string
	}{
		{
			name:    "update without id",
			key:     Key{Action: ActionUpdate},
			doc:     String("{}"),
			spec:    plain,
			wantErr: apperrors.ErrMissingID,
			field:   "id",
		},
		{
			name:    "delete without id",
			key:     Key{Action: ActionDelete},
			spec:    plain,
			wantErr: apperrors.ErrMissingID,
			field:   "id",
		},
		{
			name:    "missing id is reported before missing document",
			key:     Key{Action: ActionUpdate},
			spec:    plain,
			wantErr: apperrors.ErrMissingID,
			field:   "id",
		},
		{
			name:    "update without partition timestamp on dated index",
			key:     Key{Action: ActionUpdate, ID: String("a")},
			doc:     String("{}"),
			spec:    dated,
			wantErr: apperrors.ErrMissingPartitionTimestamp,
			field:   "partition_ts_unix_ms",
		},
		{
			name:    "delete without partition timestamp on dated index",
			key:     Key{Action: ActionDelete, ID: String("a")},
			spec:    dated,
			wantErr: apperrors.ErrMissingPartitionTimestamp,
			field:   "partition_ts_unix_ms",
		},
		{
			name:    "index without document",
			key:     Key{Action: ActionIndex, ID: String("a")},
			spec:    plain,
			wantErr: apperrors.ErrMissingDocument,
			field:   "document",
		},
		{
			name:    "update without document",
			key:     Key{Action: ActionUpdate, ID: String("a")},
			spec:    plain,
			wantErr: apperrors.ErrMissingDocument,
			field:   "document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Validate(tt.key, tt.doc, tt.spec, "fallback", nowMs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, Key{}, key)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	plain := mustSpec(t, config.StreamConfig{IndexNamePrefix: "docs"})

	key, err := Validate(Key{Action: ActionDelete, ID: String("a")}, nil, plain, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, key.Action)
	assert.Nil(t, key.PartitionTsUnixMs, "non-index actions get no partition timestamp default")

	key, err = Validate(Key{Action: ActionUpdate, ID: String("a")}, String("{}"), plain, "fallback", nowMs)
	require.NoError(t, err)
	assert.Equal(t, "a", *key.ID)
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "id", Action: ActionUpdate, Err: apperrors.ErrMissingID}
	assert.Equal(t, `missing-id: field "id" is required for UPDATE actions`, err.Error())
}
