package model

import (
	"time"

	"gorm.io/gorm"
)

// BlobData is one stored object in one bucket. Rows are shared by every
// blob with the same content in the same location and are never removed.
type BlobData struct {
	Hash     string   `gorm:"column:hash;size:36;primaryKey" json:"hash"`
	Location Location `gorm:"column:location;size:8;primaryKey" json:"location"`
	Filename string   `gorm:"column:filename;size:255;not null" json:"filename"`
	Size     int64    `gorm:"column:size;not null" json:"size"`
	Type     string   `gorm:"column:type;size:255;not null" json:"type"`
}

// TableName returns the database table name.
func (BlobData) TableName() string {
	return "blob_data"
}

// Blob is the logical pointer a caller addresses by workspace and name.
type Blob struct {
	Workspace string         `gorm:"column:workspace;size:255;primaryKey;index:idx_blob_parent,priority:1" json:"workspace"`
	Name      string         `gorm:"column:name;size:512;primaryKey" json:"name"`
	Hash      string         `gorm:"column:hash;size:36;not null" json:"hash"`
	Location  Location       `gorm:"column:location;size:8;not null" json:"location"`
	Parent    *string        `gorm:"column:parent;size:512;index:idx_blob_parent,priority:2" json:"parent,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
}

// TableName returns the database table name.
func (Blob) TableName() string {
	return "blobs"
}

// BlobWithData is a blob joined with the data row it points to.
type BlobWithData struct {
	Workspace string   `json:"workspace"`
	Name      string   `json:"name"`
	Hash      string   `json:"hash"`
	Location  Location `json:"location"`
	Parent    *string  `json:"parent,omitempty"`
	Filename  string   `json:"filename"`
	Size      int64    `json:"size"`
	Type      string   `json:"type"`
}

// BlobMeta holds caller supplied JSON. It has no foreign key to Blob and
// may outlive it or precede it.
type BlobMeta struct {
	Workspace string    `gorm:"column:workspace;size:255;primaryKey" json:"workspace"`
	Name      string    `gorm:"column:name;size:512;primaryKey" json:"name"`
	Meta      string    `gorm:"column:meta;type:text;not null" json:"meta"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName returns the database table name.
func (BlobMeta) TableName() string {
	return "blob_meta"
}

/*
Blob.Parent 是同一 workspace 内的 name 而不是外键
派生文件（缩略图 预览）可能先于源文件写入 所以这里选择使用指针并且不加约束
*/
