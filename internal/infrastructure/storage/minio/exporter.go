package minio

import (
	"bytes"
	"context"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/pkg/errors"
	rgtypes "github.com/turtacn/KeyIP-RGD/pkg/types/rgroup"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var contentTypes = map[string]string{
	FormatCSV:  "text/csv",
	FormatJSON: "application/json",
}

// Artifact is one rendering of a result.
type Artifact struct {
	Format string
	Data   []byte
}

// ResultExporter writes result artifacts under runs/<run id>/.
type ResultExporter struct {
	client *Client
	prefix string
	logger logging.Logger
}

// NewResultExporter returns an exporter writing into client's bucket.
func NewResultExporter(client *Client, log logging.Logger) *ResultExporter {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ResultExporter{client: client, prefix: "runs", logger: log.Named("exporter")}
}

// ObjectKey returns the key of format for runID.
func (e *ResultExporter) ObjectKey(runID, format string) string {
	return path.Join(e.prefix, runID, "result."+format)
}

// Export uploads every artifact. Objects already written are removed when a
// later upload fails, so a run is exported in full or not at all.
func (e *ResultExporter) Export(ctx context.Context, runID string, artifacts ...Artifact) ([]rgtypes.ExportRef, error) {
	if runID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "export: run id is required")
	}
	refs := make([]rgtypes.ExportRef, 0, len(artifacts))
	for _, a := range artifacts {
		ct, ok := contentTypes[a.Format]
		if !ok {
			e.rollback(ctx, refs)
			return nil, errors.Newf(errors.ErrCodeValidation, "export: unsupported format %q", a.Format)
		}
		key := e.ObjectKey(runID, a.Format)
		info, err := e.client.api.PutObject(ctx, e.client.bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)),
			minio.PutObjectOptions{
				ContentType:  ct,
				UserMetadata: map[string]string{"run-id": runID},
			})
		if err != nil {
			e.rollback(ctx, refs)
			return nil, errors.Wrap(err, errors.ErrCodeStorageError, "export upload failed").WithDetail(key)
		}
		refs = append(refs, rgtypes.ExportRef{Format: a.Format, Bucket: e.client.bucket, Key: key, Size: info.Size})
	}
	e.logger.Info("result exported", logging.String("run_id", runID), logging.Int("objects", len(refs)))
	return refs, nil
}

func (e *ResultExporter) rollback(ctx context.Context, refs []rgtypes.ExportRef) {
	for _, r := range refs {
		if err := e.client.api.RemoveObject(ctx, r.Bucket, r.Key, minio.RemoveObjectOptions{}); err != nil {
			e.logger.Warn("export rollback failed", logging.String("key", r.Key), logging.Err(err))
		}
	}
}
