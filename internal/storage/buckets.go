package storage

import (
	"context"

	"datalake/config"
	"datalake/model"

	"go.uber.org/zap"
)

// Buckets maps each location to the backend serving it. Order follows the
// configuration; the first entry is the default placement.
type Buckets struct {
	order    []model.Location
	backends map[model.Location]Backend
}

// NewBuckets builds an empty registry.
func NewBuckets() *Buckets {
	return &Buckets{backends: make(map[model.Location]Backend)}
}

// Add registers backend for location. A location can be served by one
// bucket only.
func (b *Buckets) Add(location model.Location, backend Backend) error {
	if _, ok := b.backends[location]; ok {
		return Error.New("location %s already has a bucket", location)
	}
	b.backends[location] = backend
	b.order = append(b.order, location)
	return nil
}

// Get returns the backend for location.
func (b *Buckets) Get(location model.Location) (Backend, bool) {
	backend, ok := b.backends[location]
	return backend, ok
}

// First returns the first configured location and its backend.
func (b *Buckets) First() (model.Location, Backend, bool) {
	if len(b.order) == 0 {
		return "", nil, false
	}
	location := b.order[0]
	return location, b.backends[location], true
}

// Locations lists configured locations in configuration order.
func (b *Buckets) Locations() []model.Location {
	return append([]model.Location(nil), b.order...)
}

// DialBuckets connects to every configured bucket.
func DialBuckets(ctx context.Context, descriptors []config.BucketConfig, log *zap.Logger) (*Buckets, error) {
	buckets := NewBuckets()
	for _, desc := range descriptors {
		location, err := model.ParseLocation(desc.Location)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		backend, err := DialMinio(ctx, desc)
		if err != nil {
			return nil, err
		}
		if err := buckets.Add(location, backend); err != nil {
			return nil, err
		}
		log.Info("bucket ready",
			zap.String("location", string(location)),
			zap.String("bucket", desc.Bucket),
			zap.String("endpoint", desc.Endpoint))
	}
	if len(buckets.order) == 0 {
		return nil, Error.New("no buckets configured")
	}
	return buckets, nil
}
