package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"
)

// Error is the error class for object backend failures.
var Error = errs.Class("storage")

// ObjectInfo is what a backend reports about a stored object.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	CacheControl string
}

// PutOptions describes upload options for object storage.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// Range selects bytes Start..End inclusive. End < 0 reads to the end.
type Range struct {
	Start int64
	End   int64
}

// Object is a readable object body together with its info.
type Object struct {
	Body io.ReadCloser
	Info ObjectInfo
	// Length is the number of bytes Body yields, which differs from
	// Info.Size for ranged reads.
	Length int64
}

// Backend abstracts one S3-compatible bucket. Head and Get return a nil
// result and no error when the object does not exist.
type Backend interface {
	Bucket() string
	Head(ctx context.Context, filename string) (*ObjectInfo, error)
	Get(ctx context.Context, filename string, rng *Range) (*Object, error)
	Put(ctx context.Context, filename string, reader io.Reader, size int64, opts PutOptions) error
	Delete(ctx context.Context, filename string) error
}

// Signer is implemented by backends that can hand out presigned upload
// URLs for direct client uploads.
type Signer interface {
	PresignPut(ctx context.Context, filename string, expiry time.Duration) (string, error)
}

// ParseRange parses a single HTTP byte range such as "bytes=0-99" or
// "bytes=100-". Suffix ranges are not supported.
func ParseRange(header string) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, fmt.Errorf("unsupported range %q", header)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" {
		return nil, fmt.Errorf("unsupported range %q", header)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("invalid range start %q", header)
	}
	rng := &Range{Start: start, End: -1}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("invalid range end %q", header)
		}
		rng.End = end
	}
	return rng, nil
}

// String formats the range as an HTTP Range header value.
func (r Range) String() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ContentRange formats the Content-Range value for an object of size total.
func (r Range) ContentRange(total int64) string {
	end := r.End
	if end < 0 || end >= total {
		end = total - 1
	}
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, end, total)
}

// Length returns how many bytes the range covers in an object of size total.
func (r Range) Length(total int64) int64 {
	end := r.End
	if end < 0 || end >= total {
		end = total - 1
	}
	if r.Start > end {
		return 0
	}
	return end - r.Start + 1
}
