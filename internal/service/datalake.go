package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"datalake/internal/cache"
	"datalake/internal/mq"
	"datalake/internal/repo"
	"datalake/internal/storage"
	"datalake/model"
	"datalake/utils"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the error class for orchestrator failures.
var Error = errs.Class("datalake")

// ErrSizeMismatch is returned by Put when the stored object size differs
// from the declared size. The stored object is removed before returning.
var ErrSizeMismatch = errors.New("stored size does not match declared size")

// ErrRangeNotSatisfiable is returned by Get for a range starting past the
// end of the blob.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ErrInvalidDigest is returned by Put when the content digest is not a hex
// digest of at least 16 bytes.
var ErrInvalidDigest = errors.New("invalid content digest")

// ErrLocationConflict is returned by Create when the name already lives in
// another location than the one the upload landed in.
var ErrLocationConflict = errors.New("blob exists in another location")

// Options are the orchestrator settings that do not come from its
// collaborators.
type Options struct {
	// CacheControl is served when neither the caller nor the backend
	// supplied one.
	CacheControl string
}

// Datalake resolves logical blob names to deduplicated stored content.
type Datalake struct {
	db      repo.BlobDB
	buckets *storage.Buckets
	cache   cache.Cache
	events  mq.Producer
	opts    Options
	log     *zap.Logger
}

// New wires the orchestrator. Every collaborator is required; use
// cache.NoopCache and mq.NoopProducer to disable those features.
func New(db repo.BlobDB, buckets *storage.Buckets, c cache.Cache, events mq.Producer, opts Options, log *zap.Logger) *Datalake {
	return &Datalake{
		db:      db,
		buckets: buckets,
		cache:   c,
		events:  events,
		opts:    opts,
		log:     log.Named("datalake"),
	}
}

// BlobInfo is one entry of a listing.
type BlobInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
}

// ListResult is a page of blobs. Cursor is empty on the last page.
type ListResult struct {
	Cursor string     `json:"cursor,omitempty"`
	Blobs  []BlobInfo `json:"blobs"`
}

// BlobHead describes a blob. ETag is the content hash, not the backend etag.
type BlobHead struct {
	Name         string    `json:"name"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
	CacheControl string    `json:"cacheControl"`
}

// BlobBody is a readable blob. Size is the logical blob size while
// BodyLength is what Body yields; they differ for ranged reads.
type BlobBody struct {
	BlobHead
	Body       io.ReadCloser
	BodyLength int64
	Range      *storage.Range
}

// PutOptions describe content being uploaded.
type PutOptions struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	CacheControl string
}

// SelectLocation picks a location for a new blob in workspace.
// Currently the first configured bucket.
func (d *Datalake) SelectLocation(ctx context.Context, workspace string) (model.Location, error) {
	location, _, ok := d.buckets.First()
	if !ok {
		return "", Error.New("no buckets configured")
	}
	return location, nil
}

// SelectStorage returns the backend for location, choosing a location
// with SelectLocation when none is given.
func (d *Datalake) SelectStorage(ctx context.Context, workspace string, location model.Location) (model.Location, storage.Backend, error) {
	if location == "" {
		var err error
		location, err = d.SelectLocation(ctx, workspace)
		if err != nil {
			return "", nil, err
		}
	}
	backend, ok := d.buckets.Get(location)
	if !ok {
		return "", nil, Error.New("no bucket for location %q", location)
	}
	return location, backend, nil
}

func (d *Datalake) List(ctx context.Context, workspace, cursor string, limit int, derived bool) (*ListResult, error) {
	res, err := d.db.ListBlobs(ctx, workspace, cursor, limit, derived)
	if err != nil {
		return nil, err
	}
	out := &ListResult{Cursor: res.Cursor, Blobs: make([]BlobInfo, 0, len(res.Blobs))}
	for _, blob := range res.Blobs {
		out.Blobs = append(out.Blobs, BlobInfo{
			Name:        blob.Name,
			Size:        blob.Size,
			ContentType: blob.Type,
			ETag:        blob.Hash,
		})
	}
	return out, nil
}

func (d *Datalake) cacheControl(value string) string {
	if value != "" {
		return value
	}
	return d.opts.CacheControl
}

func (d *Datalake) headOf(blob *model.BlobWithData, info *storage.ObjectInfo) BlobHead {
	head := BlobHead{
		Name:         blob.Name,
		ETag:         blob.Hash,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		CacheControl: d.cacheControl(info.CacheControl),
	}
	if head.ContentType == "" {
		head.ContentType = blob.Type
	}
	return head
}

// Head returns nil when the blob or its stored object is missing.
func (d *Datalake) Head(ctx context.Context, workspace, name string) (*BlobHead, error) {
	blob, err := d.db.GetBlob(ctx, workspace, name)
	if err != nil || blob == nil {
		return nil, err
	}
	_, backend, err := d.SelectStorage(ctx, workspace, blob.Location)
	if err != nil {
		return nil, err
	}
	info, err := backend.Head(ctx, blob.Filename)
	if err != nil {
		return nil, err
	}
	if info == nil {
		d.log.Warn("stored object missing",
			zap.String("workspace", workspace), zap.String("name", name), zap.String("filename", blob.Filename))
		return nil, nil
	}
	head := d.headOf(blob, info)
	return &head, nil
}

// Get returns nil when the blob is missing. Full reads of small blobs are
// served from and fill the cache; ranged reads never touch it.
func (d *Datalake) Get(ctx context.Context, workspace, name string, rng *storage.Range) (*BlobBody, error) {
	blob, err := d.db.GetBlob(ctx, workspace, name)
	if err != nil || blob == nil {
		return nil, err
	}

	if rng == nil {
		if entry, ok := d.cache.Get(ctx, blob.Hash); ok {
			return &BlobBody{
				BlobHead: BlobHead{
					Name:         blob.Name,
					ETag:         blob.Hash,
					Size:         blob.Size,
					ContentType:  entry.ContentType,
					LastModified: entry.LastModified,
					CacheControl: d.cacheControl(entry.CacheControl),
				},
				Body:       io.NopCloser(bytes.NewReader(entry.Body)),
				BodyLength: int64(len(entry.Body)),
			}, nil
		}
	}

	if rng != nil && rng.Start >= blob.Size {
		return nil, Error.Wrap(ErrRangeNotSatisfiable)
	}

	_, backend, err := d.SelectStorage(ctx, workspace, blob.Location)
	if err != nil {
		return nil, err
	}
	obj, err := backend.Get(ctx, blob.Filename, rng)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		d.log.Warn("stored object missing",
			zap.String("workspace", workspace), zap.String("name", name), zap.String("filename", blob.Filename))
		return nil, nil
	}

	res := &BlobBody{
		BlobHead:   d.headOf(blob, &obj.Info),
		Body:       obj.Body,
		BodyLength: obj.Length,
		Range:      rng,
	}
	res.Size = blob.Size

	if rng == nil && d.cache.Enabled(blob.Size) {
		data, err := io.ReadAll(obj.Body)
		_ = obj.Body.Close()
		if err != nil {
			return nil, storage.Error.Wrap(err)
		}
		d.cache.Set(ctx, blob.Hash, &cache.Entry{
			Body:         data,
			Size:         int64(len(data)),
			ContentType:  res.ContentType,
			ETag:         blob.Hash,
			LastModified: res.LastModified,
			CacheControl: obj.Info.CacheControl,
		})
		res.Body = io.NopCloser(bytes.NewReader(data))
		res.BodyLength = int64(len(data))
	}
	return res, nil
}

// Put stores body under workspace/name. sha256Hex is the hex digest of
// body and decides its identity; content already stored in the blob's
// location is not uploaded again. The returned head carries
// opts.LastModified as given, so repeating a put returns an equal head.
func (d *Datalake) Put(ctx context.Context, workspace, name, sha256Hex string, body io.Reader, opts PutOptions) (*BlobHead, error) {
	hash, err := utils.DigestToUUID(sha256Hex)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("%w: %v", ErrInvalidDigest, err))
	}
	head := &BlobHead{
		Name:         name,
		ETag:         hash,
		Size:         opts.Size,
		ContentType:  opts.ContentType,
		LastModified: opts.LastModified,
		CacheControl: d.cacheControl(opts.CacheControl),
	}

	existing, err := d.db.GetBlob(ctx, workspace, name)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Hash == hash && existing.Type == opts.ContentType {
		head.Size = existing.Size
		return head, nil
	}

	kind := mq.EventCreated
	var location model.Location
	if existing != nil {
		kind = mq.EventUpdated
		location = existing.Location
	}
	location, backend, err := d.SelectStorage(ctx, workspace, location)
	if err != nil {
		return nil, err
	}
	blob := model.Blob{Workspace: workspace, Name: name, Hash: hash, Location: location}

	data, err := d.db.GetData(ctx, hash, location)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := d.db.CreateBlob(ctx, blob); err != nil {
			return nil, err
		}
		head.Size = data.Size
		head.ContentType = data.Type
		_ = d.publish(ctx, kind, workspace, head)
		return head, nil
	}

	var buffered []byte
	size := opts.Size
	if d.cache.Enabled(opts.Size) {
		buffered, err = io.ReadAll(body)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		body = bytes.NewReader(buffered)
		size = int64(len(buffered))
	}

	err = backend.Put(ctx, hash, body, size, storage.PutOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
	})
	if err != nil {
		return nil, err
	}
	info, err := backend.Head(ctx, hash)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Size != opts.Size {
		var stored int64 = -1
		if info != nil {
			stored = info.Size
		}
		d.log.Error("upload size mismatch",
			zap.String("workspace", workspace),
			zap.String("name", name),
			zap.String("hash", hash),
			zap.Int64("declared", opts.Size),
			zap.Int64("stored", stored))
		if err := backend.Delete(ctx, hash); err != nil {
			d.log.Error("failed to remove mismatched object", zap.String("hash", hash), zap.Error(err))
		}
		return nil, Error.Wrap(fmt.Errorf("%w: declared %d, stored %d", ErrSizeMismatch, opts.Size, stored))
	}
	err = d.db.CreateBlobData(ctx, blob, model.BlobData{
		Hash:     hash,
		Location: location,
		Filename: hash,
		Size:     opts.Size,
		Type:     opts.ContentType,
	})
	if err != nil {
		return nil, err
	}

	if buffered != nil {
		d.cache.Set(ctx, hash, &cache.Entry{
			Body:         buffered,
			Size:         opts.Size,
			ContentType:  opts.ContentType,
			ETag:         hash,
			LastModified: info.LastModified,
			CacheControl: opts.CacheControl,
		})
	}
	if err := d.publish(ctx, kind, workspace, head); err != nil && buffered != nil {
		d.cache.Delete(ctx, hash)
	}
	return head, nil
}

// Create registers an object a client uploaded straight to the bucket as
// filename. It returns nil when no such object exists, and
// ErrLocationConflict when name is already stored in another location.
func (d *Datalake) Create(ctx context.Context, workspace, name, filename string) (*BlobHead, error) {
	location, backend, err := d.SelectStorage(ctx, workspace, "")
	if err != nil {
		return nil, err
	}
	existing, err := d.db.GetBlob(ctx, workspace, name)
	if err != nil {
		return nil, err
	}
	kind := mq.EventCreated
	if existing != nil {
		if existing.Location != location {
			return nil, Error.Wrap(fmt.Errorf("%w: %s is in %s", ErrLocationConflict, name, existing.Location))
		}
		kind = mq.EventUpdated
	}

	info, err := backend.Head(ctx, filename)
	if err != nil || info == nil {
		return nil, err
	}
	// etag identity, not a content digest
	hash := utils.StringToUUID(info.ETag)

	head := &BlobHead{
		Name:         name,
		ETag:         hash,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		CacheControl: d.cacheControl(info.CacheControl),
	}
	blob := model.Blob{Workspace: workspace, Name: name, Hash: hash, Location: location}

	data, err := d.db.GetData(ctx, hash, location)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if data.Filename != filename {
			if err := backend.Delete(ctx, filename); err != nil {
				d.log.Warn("failed to remove duplicate object", zap.String("filename", filename), zap.Error(err))
			}
		}
		if err := d.db.CreateBlob(ctx, blob); err != nil {
			return nil, err
		}
		head.Size = data.Size
		head.ContentType = data.Type
	} else {
		err = d.db.CreateBlobData(ctx, blob, model.BlobData{
			Hash:     hash,
			Location: location,
			Filename: filename,
			Size:     info.Size,
			Type:     info.ContentType,
		})
		if err != nil {
			return nil, err
		}
	}

	_ = d.publish(ctx, kind, workspace, head)
	return head, nil
}

// SignedUpload is a presigned URL for a direct client upload. The client
// PUTs the content to URL and then calls Create with Filename.
type SignedUpload struct {
	Location  model.Location `json:"location"`
	Filename  string         `json:"filename"`
	URL       string         `json:"url"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// SignUpload issues a presigned upload URL for a fresh object in the
// workspace's selected storage.
func (d *Datalake) SignUpload(ctx context.Context, workspace string, expiry time.Duration) (*SignedUpload, error) {
	location, backend, err := d.SelectStorage(ctx, workspace, "")
	if err != nil {
		return nil, err
	}
	signer, ok := backend.(storage.Signer)
	if !ok {
		return nil, Error.New("bucket %s cannot sign uploads", backend.Bucket())
	}
	filename := uuid.NewString()
	u, err := signer.PresignPut(ctx, filename, expiry)
	if err != nil {
		return nil, err
	}
	return &SignedUpload{
		Location:  location,
		Filename:  filename,
		URL:       u,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// Delete soft-deletes name together with every blob derived from it.
func (d *Datalake) Delete(ctx context.Context, workspace, name string) error {
	if err := d.db.DeleteBlob(ctx, workspace, name); err != nil {
		return err
	}
	d.publishDeleted(ctx, workspace, []string{name})
	return nil
}

// DeleteList soft-deletes exactly the given names. Derived blobs are kept.
func (d *Datalake) DeleteList(ctx context.Context, workspace string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := d.db.DeleteBlobList(ctx, workspace, names); err != nil {
		return err
	}
	d.publishDeleted(ctx, workspace, names)
	return nil
}

func (d *Datalake) GetMeta(ctx context.Context, workspace, name string) (json.RawMessage, error) {
	return d.db.GetMeta(ctx, workspace, name)
}

func (d *Datalake) SetMeta(ctx context.Context, workspace, name string, meta json.RawMessage) error {
	return d.db.SetMeta(ctx, workspace, name, meta)
}

// SetParent links name to parent. An empty parent clears the link.
func (d *Datalake) SetParent(ctx context.Context, workspace, name, parent string) error {
	if parent == "" {
		return d.db.SetParent(ctx, workspace, name, nil)
	}
	return d.db.SetParent(ctx, workspace, name, &parent)
}

func (d *Datalake) GetStats(ctx context.Context) (*repo.Stats, error) {
	return d.db.GetStats(ctx)
}

func (d *Datalake) GetWorkspaceStats(ctx context.Context, workspace string) (*repo.SizeStats, error) {
	return d.db.GetWorkspaceStats(ctx, workspace)
}
