package action

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

// MetadataSource selects where a stream's write metadata is encoded.
type MetadataSource string

const (
	SourceKeyDocID  MetadataSource = "key_doc_id"
	SourceKeyBinary MetadataSource = "key_binary"
	SourceKeyJSON   MetadataSource = "key_json"
	SourceEmbedded  MetadataSource = "embedded"
)

// ParseMetadataSource maps a configured metadataSrc to a MetadataSource.
func ParseMetadataSource(s string) (MetadataSource, error) {
	switch src := MetadataSource(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceKeyDocID, SourceKeyBinary, SourceKeyJSON, SourceEmbedded:
		return src, nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.KindConfig, "unknown metadataSrc %q", s)
	}
}

// IndexSpec is the compiled, read-only configuration of one stream.
type IndexSpec struct {
	MetadataSrc        MetadataSource
	IndexNamePrefix    string
	DocType            string
	DefaultVersionType VersionType

	dateFormat string
	datePatt   *DatePattern
	dateZone   *time.Location
}

// NewIndexSpec compiles a raw stream config. All failures are configuration
// faults.
func NewIndexSpec(cfg config.StreamConfig) (*IndexSpec, error) {
	src, err := ParseMetadataSource(cfg.MetadataSrc)
	if err != nil {
		return nil, err
	}
	spec := &IndexSpec{
		MetadataSrc:     src,
		IndexNamePrefix: cfg.IndexNamePrefix,
		DocType:         cfg.DocType,
	}
	if cfg.DefaultVersionType != "" {
		vt, err := ParseVersionType(cfg.DefaultVersionType)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.KindConfig, "defaultVersionType: %v", err)
		}
		spec.DefaultVersionType = vt
	}
	if cfg.IndexNameDateFormat != "" {
		if cfg.IndexNameDateZone == "" {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, apperrors.KindConfig, "indexNameDateZone is required with indexNameDateFormat")
		}
		zone, err := time.LoadLocation(cfg.IndexNameDateZone)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.KindConfig, "indexNameDateZone %q: %v", cfg.IndexNameDateZone, err)
		}
		patt, err := CompileDatePattern(cfg.IndexNameDateFormat)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidConfig, apperrors.KindConfig, "indexNameDateFormat: %v", err)
		}
		spec.dateFormat = cfg.IndexNameDateFormat
		spec.datePatt = patt
		spec.dateZone = zone
	}
	return spec, nil
}

// TimePartitioned reports whether index names vary by partition timestamp.
func (s *IndexSpec) TimePartitioned() bool {
	return s.datePatt != nil
}

// DateFormat returns the configured date pattern, or "" when the index is
// not time-partitioned.
func (s *IndexSpec) DateFormat() string {
	return s.dateFormat
}

// ResolveIndex returns the destination index for a validated key. Index
// names must be lowercase, so the formatted date is lowercased.
func (s *IndexSpec) ResolveIndex(key Key) string {
	if s.datePatt == nil {
		return s.IndexNamePrefix
	}
	t := time.UnixMilli(*key.PartitionTsUnixMs).In(s.dateZone)
	return s.IndexNamePrefix + strings.ToLower(s.datePatt.Format(t))
}
