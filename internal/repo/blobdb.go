package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"datalake/model"

	"github.com/zeebo/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Error is the error class for metadata store failures.
var Error = errs.Class("blobdb")

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	// inBatch bounds the size of IN (...) lists sent to the database.
	inBatch = 500
)

// ListResult is one page of blobs ordered by name.
type ListResult struct {
	Cursor string
	Blobs  []model.BlobWithData
}

// SizeStats aggregates a count and a byte total.
type SizeStats struct {
	Count int64 `json:"count"`
	Size  int64 `json:"size"`
}

// Stats describes the whole store.
type Stats struct {
	Workspaces int64     `json:"workspaces"`
	Blob       SizeStats `json:"blob"`
	Data       SizeStats `json:"data"`
}

// BlobDB is the metadata store contract. Missing rows are reported as nil
// results, never as errors.
type BlobDB interface {
	GetData(ctx context.Context, hash string, location model.Location) (*model.BlobData, error)
	GetBlob(ctx context.Context, workspace, name string) (*model.BlobWithData, error)
	ListBlobs(ctx context.Context, workspace, cursor string, limit int, derived bool) (*ListResult, error)
	CreateData(ctx context.Context, data model.BlobData) error
	CreateBlob(ctx context.Context, blob model.Blob) error
	CreateBlobData(ctx context.Context, blob model.Blob, data model.BlobData) error
	DeleteBlob(ctx context.Context, workspace, name string) error
	DeleteBlobList(ctx context.Context, workspace string, names []string) error
	SetParent(ctx context.Context, workspace, name string, parent *string) error
	GetMeta(ctx context.Context, workspace, name string) (json.RawMessage, error)
	SetMeta(ctx context.Context, workspace, name string, meta json.RawMessage) error
	GetStats(ctx context.Context) (*Stats, error)
	GetWorkspaceStats(ctx context.Context, workspace string) (*SizeStats, error)
}

type gormBlobDB struct {
	db *gorm.DB
}

// NewGormBlobDB returns a BlobDB that talks to db directly, without retries
// or tracing.
func NewGormBlobDB(db *gorm.DB) BlobDB {
	return &gormBlobDB{db: db}
}

func (s *gormBlobDB) joined(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("blobs AS b").
		Select("b.workspace, b.name, b.hash, b.location, b.parent, d.filename, d.size, d.type").
		Joins("JOIN blob_data AS d ON b.hash = d.hash AND b.location = d.location")
}

func (s *gormBlobDB) GetData(ctx context.Context, hash string, location model.Location) (*model.BlobData, error) {
	var data model.BlobData
	err := s.db.WithContext(ctx).
		Where("hash = ? AND location = ?", hash, location).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &data, nil
}

func (s *gormBlobDB) GetBlob(ctx context.Context, workspace, name string) (*model.BlobWithData, error) {
	var blob model.BlobWithData
	err := s.joined(ctx).
		Where("b.workspace = ? AND b.name = ? AND b.deleted_at IS NULL", workspace, name).
		Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &blob, nil
}

func (s *gormBlobDB) ListBlobs(ctx context.Context, workspace, cursor string, limit int, derived bool) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := s.joined(ctx).
		Where("b.workspace = ? AND b.name > ? AND b.deleted_at IS NULL", workspace, cursor)
	if !derived {
		query = query.Where("b.parent IS NULL")
	}
	blobs := make([]model.BlobWithData, 0, limit)
	if err := query.Order("b.name").Limit(limit).Find(&blobs).Error; err != nil {
		return nil, Error.Wrap(err)
	}
	result := &ListResult{Blobs: blobs}
	if len(blobs) == limit {
		result.Cursor = blobs[len(blobs)-1].Name
	}
	return result, nil
}

func upsertData(tx *gorm.DB, data model.BlobData) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}, {Name: "location"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename", "size", "type"}),
	}).Create(&data).Error
}

// upsertBlob revives soft-deleted rows: deleted_at is reset with the rest.
func upsertBlob(tx *gorm.DB, blob model.Blob) error {
	blob.DeletedAt = gorm.DeletedAt{}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"hash", "location", "parent", "deleted_at"}),
	}).Create(&blob).Error
}

func (s *gormBlobDB) CreateData(ctx context.Context, data model.BlobData) error {
	return Error.Wrap(upsertData(s.db.WithContext(ctx), data))
}

func (s *gormBlobDB) CreateBlob(ctx context.Context, blob model.Blob) error {
	return Error.Wrap(upsertBlob(s.db.WithContext(ctx), blob))
}

func (s *gormBlobDB) CreateBlobData(ctx context.Context, blob model.Blob, data model.BlobData) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertData(tx, data); err != nil {
			return err
		}
		return upsertBlob(tx, blob)
	})
	return Error.Wrap(err)
}

// DeleteBlob soft-deletes a blob and every living descendant reachable
// through parent links, walking the tree one level per query.
func (s *gormBlobDB) DeleteBlob(ctx context.Context, workspace, name string) error {
	db := s.db.WithContext(ctx)
	visited := map[string]struct{}{name: {}}
	names := []string{name}
	frontier := []string{name}

	for len(frontier) > 0 {
		var next []string
		for _, batch := range chunk(frontier, inBatch) {
			var children []string
			if err := db.Model(&model.Blob{}).
				Where("workspace = ? AND parent IN ?", workspace, batch).
				Pluck("name", &children).Error; err != nil {
				return Error.Wrap(err)
			}
			for _, child := range children {
				if _, ok := visited[child]; ok {
					continue
				}
				visited[child] = struct{}{}
				names = append(names, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	return s.softDelete(db, workspace, names)
}

// DeleteBlobList soft-deletes the named blobs only; children are kept.
func (s *gormBlobDB) DeleteBlobList(ctx context.Context, workspace string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return s.softDelete(s.db.WithContext(ctx), workspace, names)
}

func (s *gormBlobDB) softDelete(db *gorm.DB, workspace string, names []string) error {
	for _, batch := range chunk(names, inBatch) {
		if err := db.Where("workspace = ? AND name IN ?", workspace, batch).
			Delete(&model.Blob{}).Error; err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (s *gormBlobDB) SetParent(ctx context.Context, workspace, name string, parent *string) error {
	err := s.db.WithContext(ctx).
		Unscoped().
		Model(&model.Blob{}).
		Where("workspace = ? AND name = ?", workspace, name).
		Update("parent", parent).Error
	return Error.Wrap(err)
}

func (s *gormBlobDB) GetMeta(ctx context.Context, workspace, name string) (json.RawMessage, error) {
	var meta model.BlobMeta
	err := s.db.WithContext(ctx).
		Where("workspace = ? AND name = ?", workspace, name).
		Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return json.RawMessage(meta.Meta), nil
}

func (s *gormBlobDB) SetMeta(ctx context.Context, workspace, name string, meta json.RawMessage) error {
	if !json.Valid(meta) {
		return Error.New("meta for %s/%s is not valid json", workspace, name)
	}
	row := model.BlobMeta{
		Workspace: workspace,
		Name:      name,
		Meta:      string(meta),
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta", "updated_at"}),
	}).Create(&row).Error
	return Error.Wrap(err)
}

type statsRow struct {
	Workspaces int64
	Count      int64
	Size       int64
}

func (s *gormBlobDB) GetStats(ctx context.Context) (*Stats, error) {
	var blobs statsRow
	if err := s.db.WithContext(ctx).
		Table("blobs AS b").
		Select("COUNT(DISTINCT b.workspace) AS workspaces, COUNT(1) AS count, COALESCE(SUM(d.size), 0) AS size").
		Joins("JOIN blob_data AS d ON b.hash = d.hash AND b.location = d.location").
		Where("b.deleted_at IS NULL").
		Scan(&blobs).Error; err != nil {
		return nil, Error.Wrap(err)
	}
	var data statsRow
	if err := s.db.WithContext(ctx).
		Table("blob_data AS d").
		Select("COUNT(1) AS count, COALESCE(SUM(d.size), 0) AS size").
		Scan(&data).Error; err != nil {
		return nil, Error.Wrap(err)
	}
	return &Stats{
		Workspaces: blobs.Workspaces,
		Blob:       SizeStats{Count: blobs.Count, Size: blobs.Size},
		Data:       SizeStats{Count: data.Count, Size: data.Size},
	}, nil
}

func (s *gormBlobDB) GetWorkspaceStats(ctx context.Context, workspace string) (*SizeStats, error) {
	var row statsRow
	if err := s.db.WithContext(ctx).
		Table("blobs AS b").
		Select("COUNT(1) AS count, COALESCE(SUM(d.size), 0) AS size").
		Joins("JOIN blob_data AS d ON b.hash = d.hash AND b.location = d.location").
		Where("b.workspace = ? AND b.deleted_at IS NULL", workspace).
		Scan(&row).Error; err != nil {
		return nil, Error.Wrap(err)
	}
	return &SizeStats{Count: row.Count, Size: row.Size}, nil
}

func chunk(items []string, size int) [][]string {
	out := make([][]string, 0, len(items)/size+1)
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
