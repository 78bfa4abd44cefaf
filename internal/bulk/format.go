package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	apperrors "github.com/Adithya-Monish-Kumar-K/es-push/pkg/errors"
)

type bulkMeta struct {
	Index       string `json:"_index"`
	Type        string `json:"_type,omitempty"`
	ID          string `json:"_id,omitempty"`
	Version     *int64 `json:"version,omitempty"`
	VersionType string `json:"version_type,omitempty"`
}

// Render encodes ops as a newline-delimited bulk body: one metadata line per
// operation followed by its source line, except for deletes. version_type
// is only sent together with a version.
func Render(ops []*action.WriteOperation) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range ops {
		meta := bulkMeta{
			Index: op.Index,
			Type:  op.DocType,
		}
		if op.Key.ID != nil {
			meta.ID = *op.Key.ID
		}
		if op.Key.Version != nil {
			meta.Version = op.Key.Version
			if op.Key.VersionType != action.VersionTypeUnset {
				meta.VersionType = op.Key.VersionType.BulkName()
			}
		}
		line, err := json.Marshal(map[string]bulkMeta{op.Key.Action.BulkName(): meta})
		if err != nil {
			return nil, fmt.Errorf("encoding bulk metadata for %s: %w", meta.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')

		if op.Key.Action == action.ActionDelete || op.Document == nil {
			continue
		}
		if err := writeSource(&buf, *op.Document); err != nil {
			return nil, fmt.Errorf("encoding bulk source for %s: %w", meta.ID, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// writeSource writes doc on a single line. Documents that already are a
// single line are written untouched. A multi-line document that is not JSON
// is written as a JSON string so it cannot break the line framing; the
// endpoint then rejects that item alone.
func writeSource(buf *bytes.Buffer, doc string) error {
	if !strings.ContainsAny(doc, "\r\n") {
		buf.WriteString(doc)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(doc)); err == nil {
		buf.Write(compact.Bytes())
		return nil
	}
	quoted, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	buf.Write(quoted)
	return nil
}

// Response is the decoded body of a bulk call.
type Response struct {
	Took   int64                   `json:"took"`
	Errors bool                    `json:"errors"`
	Items  []map[string]ItemResult `json:"items"`
}

// ItemResult is the per-operation outcome.
type ItemResult struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ParseResponse decodes a bulk response body.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	return &resp, nil
}

// summarize counts item outcomes against the batch they answer, in request
// order. Version conflicts are counted apart from failures: with external
// versioning they mean a newer write already won. Items refused with 429 or
// a server error go back for another flush; any other failure is final.
func (r *Response) summarize(report *Report, batch []*action.WriteOperation, out *outcome) {
	report.Took = time.Duration(r.Took) * time.Millisecond
	for i, item := range r.Items {
		for _, result := range item {
			switch {
			case result.Status == http.StatusConflict:
				report.Conflicts++
			case result.Status >= 300:
				report.Failed++
				if report.Errors == nil {
					report.Errors = make(map[string]string)
				}
				if len(report.Errors) < maxReportedErrors {
					report.Errors[result.ID] = string(result.Error)
				}
				if i >= len(batch) {
					continue
				}
				if result.Status == http.StatusTooManyRequests || result.Status >= 500 {
					out.retry = append(out.retry, batch[i])
					continue
				}
				report.Rejected++
				out.reject = append(out.reject, rejection{
					op:  batch[i],
					err: fmt.Errorf("%w: item %s status %d: %s", apperrors.ErrBulkRejected, result.ID, result.Status, result.Error),
				})
			default:
				report.Succeeded++
			}
		}
	}
}
