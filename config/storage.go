package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// BucketConfig describes one S3-compatible bucket serving a location.
type BucketConfig struct {
	Bucket    string `toml:"bucket"`
	Location  string `toml:"location"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

type bucketFile struct {
	Buckets []BucketConfig `toml:"buckets"`
}

// loadBuckets reads bucket descriptors from a TOML file. Without a file a
// single bucket is described from the MINIO_* variables.
func loadBuckets(path string) ([]BucketConfig, error) {
	if strings.TrimSpace(path) == "" {
		return []BucketConfig{defaultBucket()}, nil
	}
	var file bucketFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("read bucket config %s: %w", path, err)
	}
	return ParseBuckets(file.Buckets)
}

// ParseBuckets validates descriptors: every location is served by exactly
// one bucket and at least one bucket is configured.
func ParseBuckets(buckets []BucketConfig) ([]BucketConfig, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("no buckets configured")
	}
	seen := make(map[string]struct{}, len(buckets))
	out := make([]BucketConfig, 0, len(buckets))
	for _, b := range buckets {
		b.Location = strings.ToLower(strings.TrimSpace(b.Location))
		if b.Bucket == "" || b.Location == "" || b.Endpoint == "" {
			return nil, fmt.Errorf("bucket descriptor requires bucket, location and endpoint (bucket %q, location %q)", b.Bucket, b.Location)
		}
		if _, ok := seen[b.Location]; ok {
			return nil, fmt.Errorf("location %s configured twice", b.Location)
		}
		seen[b.Location] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func defaultBucket() BucketConfig {
	return BucketConfig{
		Bucket:    getEnv("BUCKET_NAME", "datalake"),
		Location:  strings.ToLower(getEnv("DATALAKE_LOCATION", "weur")),
		Endpoint:  fmt.Sprintf("%s:%s", getEnv("MINIO_HOST", "localhost"), getEnv("MINIO_PORT", "9000")),
		AccessKey: getEnv("MINIO_USERNAME", "minioadmin"),
		SecretKey: getEnv("MINIO_PASSWORD", "minioadmin"),
		Region:    getEnv("MINIO_REGION", ""),
		UseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}
