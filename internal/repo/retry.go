package repo

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"datalake/model"

	"github.com/cenkalti/backoff/v4"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// RetryOptions bounds the retry decorator.
type RetryOptions struct {
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryOptions retries five times starting at 50ms.
var DefaultRetryOptions = RetryOptions{
	Retries:         5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

type retryBlobDB struct {
	db   BlobDB
	opts RetryOptions
}

// NewRetryBlobDB wraps db so that transient failures are retried with
// exponential backoff. Other errors are returned at once.
func NewRetryBlobDB(db BlobDB, opts RetryOptions) BlobDB {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultRetryOptions.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultRetryOptions.MaxInterval
	}
	return &retryBlobDB{db: db, opts: opts}
}

// IsTransient reports whether err is worth retrying: lost connections,
// serialization failures, deadlocks and server restarts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqlDriver.ErrInvalidConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03", "53300":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var myErr *mysqlDriver.MySQLError
	if errors.As(err, &myErr) {
		// too many connections, lock wait timeout, deadlock, server gone,
		// connection lost
		switch myErr.Number {
		case 1040, 1205, 1213, 2006, 2013:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (r *retryBlobDB) do(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialInterval
	policy.MaxInterval = r.opts.MaxInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.Retries)), ctx))
}

func (r *retryBlobDB) GetData(ctx context.Context, hash string, location model.Location) (data *model.BlobData, err error) {
	err = r.do(ctx, func() (err error) {
		data, err = r.db.GetData(ctx, hash, location)
		return err
	})
	return data, err
}

func (r *retryBlobDB) GetBlob(ctx context.Context, workspace, name string) (blob *model.BlobWithData, err error) {
	err = r.do(ctx, func() (err error) {
		blob, err = r.db.GetBlob(ctx, workspace, name)
		return err
	})
	return blob, err
}

func (r *retryBlobDB) ListBlobs(ctx context.Context, workspace, cursor string, limit int, derived bool) (res *ListResult, err error) {
	err = r.do(ctx, func() (err error) {
		res, err = r.db.ListBlobs(ctx, workspace, cursor, limit, derived)
		return err
	})
	return res, err
}

func (r *retryBlobDB) CreateData(ctx context.Context, data model.BlobData) error {
	return r.do(ctx, func() error { return r.db.CreateData(ctx, data) })
}

func (r *retryBlobDB) CreateBlob(ctx context.Context, blob model.Blob) error {
	return r.do(ctx, func() error { return r.db.CreateBlob(ctx, blob) })
}

func (r *retryBlobDB) CreateBlobData(ctx context.Context, blob model.Blob, data model.BlobData) error {
	return r.do(ctx, func() error { return r.db.CreateBlobData(ctx, blob, data) })
}

func (r *retryBlobDB) DeleteBlob(ctx context.Context, workspace, name string) error {
	return r.do(ctx, func() error { return r.db.DeleteBlob(ctx, workspace, name) })
}

func (r *retryBlobDB) DeleteBlobList(ctx context.Context, workspace string, names []string) error {
	return r.do(ctx, func() error { return r.db.DeleteBlobList(ctx, workspace, names) })
}

func (r *retryBlobDB) SetParent(ctx context.Context, workspace, name string, parent *string) error {
	return r.do(ctx, func() error { return r.db.SetParent(ctx, workspace, name, parent) })
}

func (r *retryBlobDB) GetMeta(ctx context.Context, workspace, name string) (meta json.RawMessage, err error) {
	err = r.do(ctx, func() (err error) {
		meta, err = r.db.GetMeta(ctx, workspace, name)
		return err
	})
	return meta, err
}

func (r *retryBlobDB) SetMeta(ctx context.Context, workspace, name string, meta json.RawMessage) error {
	return r.do(ctx, func() error { return r.db.SetMeta(ctx, workspace, name, meta) })
}

func (r *retryBlobDB) GetStats(ctx context.Context) (stats *Stats, err error) {
	err = r.do(ctx, func() (err error) {
		stats, err = r.db.GetStats(ctx)
		return err
	})
	return stats, err
}

func (r *retryBlobDB) GetWorkspaceStats(ctx context.Context, workspace string) (stats *SizeStats, err error) {
	err = r.do(ctx, func() (err error) {
		stats, err = r.db.GetWorkspaceStats(ctx, workspace)
		return err
	})
	return stats, err
}
