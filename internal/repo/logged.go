package repo

import (
	"context"
	"encoding/json"
	"time"

	"datalake/model"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	blobDBOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datalake",
			Subsystem: "blobdb",
			Name:      "operations_total",
			Help:      "Total number of metadata store operations, by outcome.",
		},
		[]string{"operation", "outcome"})
	blobDBOperationsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datalake",
			Subsystem: "blobdb",
			Name:      "operation_duration_seconds",
			Help:      "Amount of time spent per metadata store operation, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation"})
)

func init() {
	prometheus.MustRegister(blobDBOperationsTotal)
	prometheus.MustRegister(blobDBOperationsDurationSeconds)
}

type loggedBlobDB struct {
	db  BlobDB
	log *zap.Logger
}

// NewLoggedBlobDB wraps db so that every call is timed, counted and logged
// with its operation name and identifying parameters. Payloads such as
// meta documents are never logged.
func NewLoggedBlobDB(db BlobDB, log *zap.Logger) BlobDB {
	return &loggedBlobDB{db: db, log: log.Named("blobdb")}
}

// NewBlobDB composes the production stack: tracing over retries over db.
func NewBlobDB(db BlobDB, opts RetryOptions, log *zap.Logger) BlobDB {
	return NewLoggedBlobDB(NewRetryBlobDB(db, opts), log)
}

func (l *loggedBlobDB) observe(operation string, op func() error, fields ...zap.Field) error {
	timeStart := time.Now()
	err := op()
	elapsed := time.Since(timeStart)
	blobDBOperationsDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())

	fields = append(fields, zap.String("op", operation), zap.Duration("duration", elapsed))
	if err != nil {
		blobDBOperationsTotal.WithLabelValues(operation, "error").Inc()
		l.log.Warn("db call failed", append(fields, zap.Error(err))...)
		return err
	}
	blobDBOperationsTotal.WithLabelValues(operation, "ok").Inc()
	l.log.Debug("db call", fields...)
	return nil
}

func (l *loggedBlobDB) GetData(ctx context.Context, hash string, location model.Location) (data *model.BlobData, err error) {
	err = l.observe("db.getData", func() (err error) {
		data, err = l.db.GetData(ctx, hash, location)
		return err
	}, zap.String("hash", hash), zap.String("location", string(location)))
	return data, err
}

func (l *loggedBlobDB) GetBlob(ctx context.Context, workspace, name string) (blob *model.BlobWithData, err error) {
	err = l.observe("db.getBlob", func() (err error) {
		blob, err = l.db.GetBlob(ctx, workspace, name)
		return err
	}, zap.String("workspace", workspace), zap.String("name", name))
	return blob, err
}

func (l *loggedBlobDB) ListBlobs(ctx context.Context, workspace, cursor string, limit int, derived bool) (res *ListResult, err error) {
	err = l.observe("db.listBlobs", func() (err error) {
		res, err = l.db.ListBlobs(ctx, workspace, cursor, limit, derived)
		return err
	}, zap.String("workspace", workspace), zap.String("cursor", cursor), zap.Int("limit", limit), zap.Bool("derived", derived))
	return res, err
}

func (l *loggedBlobDB) CreateData(ctx context.Context, data model.BlobData) error {
	return l.observe("db.createData", func() error {
		return l.db.CreateData(ctx, data)
	}, zap.String("hash", data.Hash), zap.String("location", string(data.Location)), zap.Int64("size", data.Size))
}

func (l *loggedBlobDB) CreateBlob(ctx context.Context, blob model.Blob) error {
	return l.observe("db.createBlob", func() error {
		return l.db.CreateBlob(ctx, blob)
	}, zap.String("workspace", blob.Workspace), zap.String("name", blob.Name), zap.String("hash", blob.Hash))
}

func (l *loggedBlobDB) CreateBlobData(ctx context.Context, blob model.Blob, data model.BlobData) error {
	return l.observe("db.createBlobData", func() error {
		return l.db.CreateBlobData(ctx, blob, data)
	}, zap.String("workspace", blob.Workspace), zap.String("name", blob.Name), zap.String("hash", data.Hash), zap.Int64("size", data.Size))
}

func (l *loggedBlobDB) DeleteBlob(ctx context.Context, workspace, name string) error {
	return l.observe("db.deleteBlob", func() error {
		return l.db.DeleteBlob(ctx, workspace, name)
	}, zap.String("workspace", workspace), zap.String("name", name))
}

func (l *loggedBlobDB) DeleteBlobList(ctx context.Context, workspace string, names []string) error {
	return l.observe("db.deleteBlobList", func() error {
		return l.db.DeleteBlobList(ctx, workspace, names)
	}, zap.String("workspace", workspace), zap.Int("count", len(names)))
}

func (l *loggedBlobDB) SetParent(ctx context.Context, workspace, name string, parent *string) error {
	fields := []zap.Field{zap.String("workspace", workspace), zap.String("name", name)}
	if parent != nil {
		fields = append(fields, zap.String("parent", *parent))
	}
	return l.observe("db.setParent", func() error {
		return l.db.SetParent(ctx, workspace, name, parent)
	}, fields...)
}

func (l *loggedBlobDB) GetMeta(ctx context.Context, workspace, name string) (meta json.RawMessage, err error) {
	err = l.observe("db.getMeta", func() (err error) {
		meta, err = l.db.GetMeta(ctx, workspace, name)
		return err
	}, zap.String("workspace", workspace), zap.String("name", name))
	return meta, err
}

func (l *loggedBlobDB) SetMeta(ctx context.Context, workspace, name string, meta json.RawMessage) error {
	return l.observe("db.setMeta", func() error {
		return l.db.SetMeta(ctx, workspace, name, meta)
	}, zap.String("workspace", workspace), zap.String("name", name), zap.Int("bytes", len(meta)))
}

func (l *loggedBlobDB) GetStats(ctx context.Context) (stats *Stats, err error) {
	err = l.observe("db.getStats", func() (err error) {
		stats, err = l.db.GetStats(ctx)
		return err
	})
	return stats, err
}

func (l *loggedBlobDB) GetWorkspaceStats(ctx context.Context, workspace string) (stats *SizeStats, err error) {
	err = l.observe("db.getWorkspaceStats", func() (err error) {
		stats, err = l.db.GetWorkspaceStats(ctx, workspace)
		return err
	}, zap.String("workspace", workspace))
	return stats, err
}
