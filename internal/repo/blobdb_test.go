package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"datalake/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWorkspace = "ws-1"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: NewGormLogger(zap.NewNop()),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db, zap.NewNop()))
	return db
}

func newTestBlobDB(t *testing.T) BlobDB {
	return NewGormBlobDB(newTestDB(t))
}

func strPtr(s string) *string { return &s }

func putBlob(t *testing.T, db BlobDB, name, hash string, size int64, parent *string) {
	t.Helper()
	err := db.CreateBlobData(context.Background(),
		model.Blob{Workspace: testWorkspace, Name: name, Hash: hash, Location: model.LocationWEUR, Parent: parent},
		model.BlobData{Hash: hash, Location: model.LocationWEUR, Filename: hash, Size: size, Type: "image/png"},
	)
	require.NoError(t, err)
}

func TestMigrateCreatesTables(t *testing.T) {
	db := newTestDB(t)
	for _, table := range []string{"blobs", "blob_data", "blob_meta"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&model.Blob{}, "idx_blob_parent"))
}

func TestCreateBlobDataAndGet(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "a.png", "h1", 100, nil)

	blob, err := db.GetBlob(ctx, testWorkspace, "a.png")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, "h1", blob.Hash)
	assert.Equal(t, model.LocationWEUR, blob.Location)
	assert.Equal(t, "h1", blob.Filename)
	assert.Equal(t, int64(100), blob.Size)
	assert.Equal(t, "image/png", blob.Type)
	assert.Nil(t, blob.Parent)

	data, err := db.GetData(ctx, "h1", model.LocationWEUR)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, int64(100), data.Size)

	missing, err := db.GetData(ctx, "h1", model.LocationAPAC)
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := db.GetBlob(ctx, "ws-2", "a.png")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCreateDataIsIdempotent(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	data := model.BlobData{Hash: "h1", Location: model.LocationWEUR, Filename: "h1", Size: 10, Type: "text/plain"}
	require.NoError(t, db.CreateData(ctx, data))
	require.NoError(t, db.CreateData(ctx, data))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Data.Count)
	assert.Equal(t, int64(10), stats.Data.Size)
}

func TestCreateBlobOverwritesAndRevives(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "a.png", "h1", 100, nil)
	require.NoError(t, db.DeleteBlob(ctx, testWorkspace, "a.png"))

	blob, err := db.GetBlob(ctx, testWorkspace, "a.png")
	require.NoError(t, err)
	assert.Nil(t, blob)

	putBlob(t, db, "a.png", "h2", 200, nil)
	blob, err = db.GetBlob(ctx, testWorkspace, "a.png")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, "h2", blob.Hash)
	assert.Equal(t, int64(200), blob.Size)
}

func TestListBlobsPagination(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		putBlob(t, db, fmt.Sprintf("blob-%d", i), fmt.Sprintf("h%d", i), 10, nil)
	}

	first, err := db.ListBlobs(ctx, testWorkspace, "", 3, false)
	require.NoError(t, err)
	require.Len(t, first.Blobs, 3)
	assert.Equal(t, "blob-2", first.Cursor)

	second, err := db.ListBlobs(ctx, testWorkspace, first.Cursor, 3, false)
	require.NoError(t, err)
	require.Len(t, second.Blobs, 2)
	assert.Empty(t, second.Cursor)

	var names []string
	for _, b := range append(first.Blobs, second.Blobs...) {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"blob-0", "blob-1", "blob-2", "blob-3", "blob-4"}, names)
}

func TestListBlobsDerivedAndDeleted(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "a.png", "h1", 10, nil)
	putBlob(t, db, "a.thumb.png", "h2", 5, strPtr("a.png"))
	putBlob(t, db, "b.png", "h3", 10, nil)
	require.NoError(t, db.DeleteBlobList(ctx, testWorkspace, []string{"b.png"}))

	roots, err := db.ListBlobs(ctx, testWorkspace, "", 0, false)
	require.NoError(t, err)
	require.Len(t, roots.Blobs, 1)
	assert.Equal(t, "a.png", roots.Blobs[0].Name)
	assert.Empty(t, roots.Cursor)

	all, err := db.ListBlobs(ctx, testWorkspace, "", 0, true)
	require.NoError(t, err)
	assert.Len(t, all.Blobs, 2)
}

func TestDeleteBlobCascades(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "root", "h1", 10, nil)
	putBlob(t, db, "child", "h2", 10, strPtr("root"))
	putBlob(t, db, "grandchild", "h3", 10, strPtr("child"))
	putBlob(t, db, "sibling", "h4", 10, nil)
	putBlob(t, db, "sibling-child", "h5", 10, strPtr("sibling"))

	require.NoError(t, db.DeleteBlob(ctx, testWorkspace, "root"))

	for _, name := range []string{"root", "child", "grandchild"} {
		blob, err := db.GetBlob(ctx, testWorkspace, name)
		require.NoError(t, err)
		assert.Nil(t, blob, name)
	}
	for _, name := range []string{"sibling", "sibling-child"} {
		blob, err := db.GetBlob(ctx, testWorkspace, name)
		require.NoError(t, err)
		assert.NotNil(t, blob, name)
	}
}

func TestDeleteBlobCascadeToleratesCycles(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "a", "h1", 10, strPtr("b"))
	putBlob(t, db, "b", "h2", 10, strPtr("a"))

	require.NoError(t, db.DeleteBlob(ctx, testWorkspace, "a"))
	stats, err := db.GetWorkspaceStats(ctx, testWorkspace)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Count)
}

func TestDeleteBlobListDoesNotCascade(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "root", "h1", 10, nil)
	putBlob(t, db, "child", "h2", 10, strPtr("root"))

	require.NoError(t, db.DeleteBlobList(ctx, testWorkspace, []string{"root"}))
	require.NoError(t, db.DeleteBlobList(ctx, testWorkspace, nil))

	root, err := db.GetBlob(ctx, testWorkspace, "root")
	require.NoError(t, err)
	assert.Nil(t, root)
	child, err := db.GetBlob(ctx, testWorkspace, "child")
	require.NoError(t, err)
	assert.NotNil(t, child)
}

func TestSetParent(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()
	putBlob(t, db, "a", "h1", 10, nil)
	putBlob(t, db, "b", "h2", 10, nil)

	require.NoError(t, db.SetParent(ctx, testWorkspace, "b", strPtr("a")))
	blob, err := db.GetBlob(ctx, testWorkspace, "b")
	require.NoError(t, err)
	require.NotNil(t, blob.Parent)
	assert.Equal(t, "a", *blob.Parent)

	require.NoError(t, db.SetParent(ctx, testWorkspace, "b", nil))
	blob, err = db.GetBlob(ctx, testWorkspace, "b")
	require.NoError(t, err)
	assert.Nil(t, blob.Parent)
}

func TestMeta(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()

	meta, err := db.GetMeta(ctx, testWorkspace, "a")
	require.NoError(t, err)
	assert.Nil(t, meta)

	// meta may exist without a blob
	require.NoError(t, db.SetMeta(ctx, testWorkspace, "a", json.RawMessage(`{"w":1}`)))
	require.NoError(t, db.SetMeta(ctx, testWorkspace, "a", json.RawMessage(`{"w":2}`)))
	meta, err = db.GetMeta(ctx, testWorkspace, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"w":2}`, string(meta))

	assert.Error(t, db.SetMeta(ctx, testWorkspace, "a", json.RawMessage(`{`)))
}

func TestStats(t *testing.T) {
	db := newTestBlobDB(t)
	ctx := context.Background()

	empty, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Blob.Count)

	putBlob(t, db, "a", "h1", 10, nil)
	putBlob(t, db, "b", "h1", 10, nil)
	putBlob(t, db, "c", "h2", 30, nil)
	require.NoError(t, db.CreateBlob(ctx, model.Blob{Workspace: "ws-2", Name: "a", Hash: "h1", Location: model.LocationWEUR}))
	require.NoError(t, db.DeleteBlob(ctx, testWorkspace, "c"))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Workspaces)
	assert.Equal(t, SizeStats{Count: 3, Size: 30}, stats.Blob)
	assert.Equal(t, SizeStats{Count: 2, Size: 40}, stats.Data)

	ws, err := db.GetWorkspaceStats(ctx, testWorkspace)
	require.NoError(t, err)
	assert.Equal(t, SizeStats{Count: 2, Size: 20}, *ws)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Empty(t, chunk(nil, 2))
}
