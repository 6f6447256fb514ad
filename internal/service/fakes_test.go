package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"datalake/internal/mq"
	"datalake/internal/storage"
)

type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

// fakeBackend keeps objects in memory and counts calls.
type fakeBackend struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	// sizeSkew is added to the size Head reports.
	sizeSkew int64

	puts, gets, heads, deletes int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string]fakeObject)}
}

func (b *fakeBackend) Bucket() string { return "fake" }

func (b *fakeBackend) info(obj fakeObject) *storage.ObjectInfo {
	return &storage.ObjectInfo{
		Size:         int64(len(obj.data)) + b.sizeSkew,
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.modified,
	}
}

func (b *fakeBackend) Head(_ context.Context, filename string) (*storage.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heads++
	obj, ok := b.objects[filename]
	if !ok {
		return nil, nil
	}
	return b.info(obj), nil
}

func (b *fakeBackend) Get(_ context.Context, filename string, rng *storage.Range) (*storage.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	obj, ok := b.objects[filename]
	if !ok {
		return nil, nil
	}
	data := obj.data
	if rng != nil {
		n := rng.Length(int64(len(data)))
		data = data[rng.Start : rng.Start+n]
	}
	return &storage.Object{
		Body:   io.NopCloser(bytes.NewReader(data)),
		Info:   *b.info(obj),
		Length: int64(len(data)),
	}, nil
}

func (b *fakeBackend) Put(_ context.Context, filename string, reader io.Reader, _ int64, opts storage.PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	b.objects[filename] = fakeObject{
		data:        data,
		contentType: opts.ContentType,
		etag:        fmt.Sprintf("etag-%d", len(b.objects)),
		modified:    time.Unix(1700000000, 0).UTC(),
	}
	return nil
}

func (b *fakeBackend) Delete(_ context.Context, filename string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	delete(b.objects, filename)
	return nil
}

// upload places an object as a client would through a presigned URL.
func (b *fakeBackend) upload(filename, etag string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[filename] = fakeObject{
		data:        data,
		contentType: "video/mp4",
		etag:        etag,
		modified:    time.Unix(1700000000, 0).UTC(),
	}
}

func (b *fakeBackend) has(filename string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[filename]
	return ok
}

var errBrokerDown = errors.New("broker down")

type fakeProducer struct {
	mu     sync.Mutex
	events []mq.Event
	fail   bool
}

func (p *fakeProducer) Publish(_ context.Context, event mq.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errBrokerDown
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakeProducer) kinds() []mq.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kinds []mq.EventKind
	for _, event := range p.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

func (b *fakeBackend) PresignPut(_ context.Context, filename string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://fake.local/%s?expires=%d", filename, int(expiry.Seconds())), nil
}
