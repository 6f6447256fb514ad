package repo

import (
	"fmt"
	"strings"
	"time"

	"datalake/model"

	"go.uber.org/zap"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	legacyMetaConstraint = "fk_blob_meta_blob"
	parentIndex          = "idx_blob_parent"
)

// zapWriter routes gorm's logger through zap.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

// NewGormLogger builds a gorm logger that reports slow queries and errors
// only; missing rows are an expected outcome here.
func NewGormLogger(log *zap.Logger) logger.Interface {
	return logger.New(zapWriter{log: log.Sugar()}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// dialector picks the driver from the connection string. postgres:// and
// postgresql:// URLs use Postgres; anything else is a MySQL DSN, with an
// optional mysql:// prefix.
func dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(postgres.Config{DSN: dsn})
	default:
		return gormMysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	}
}

// Open connects to the metadata database and migrates the schema.
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(dsn), &gorm.Config{
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db, log); err != nil {
		return nil, err
	}
	log.Info("metadata db ready", zap.String("dialect", db.Dialector.Name()))
	return db, nil
}

// Migrate creates or updates the blob tables.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(&model.BlobData{}, &model.Blob{}, &model.BlobMeta{}); err != nil {
		return fmt.Errorf("migrate blob tables: %w", err)
	}
	migrateBlobIndexes(db, log)
	migrateMetaConstraint(db, log)
	return nil
}

// migrateBlobIndexes makes sure the cascade lookup by parent is indexed on
// tables created before the index existed.
func migrateBlobIndexes(db *gorm.DB, log *zap.Logger) {
	migrator := db.Migrator()
	if !migrator.HasIndex(&model.Blob{}, parentIndex) {
		if err := migrator.CreateIndex(&model.Blob{}, parentIndex); err != nil {
			log.Warn("create index failed", zap.String("index", parentIndex), zap.Error(err))
		}
	}
}

// migrateMetaConstraint drops the foreign key older schemas put between
// blob_meta and blobs; meta now has its own lifecycle.
func migrateMetaConstraint(db *gorm.DB, log *zap.Logger) {
	migrator := db.Migrator()
	if migrator.HasConstraint(&model.BlobMeta{}, legacyMetaConstraint) {
		if err := migrator.DropConstraint(&model.BlobMeta{}, legacyMetaConstraint); err != nil {
			log.Warn("drop constraint failed", zap.String("constraint", legacyMetaConstraint), zap.Error(err))
		}
	}
}
