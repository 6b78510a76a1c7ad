package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StorageType selects the archive backend.
type StorageType string

const (
	StorageFS  StorageType = "fs"
	StorageS3  StorageType = "s3"
	StorageGCS StorageType = "gcs"
)

// NewStoreFromEnv builds the archive store described by the environment.
//
//   - ARCHIVE_STORAGE_TYPE: "fs" (default), "s3" or "gcs"
//   - DATA_DIR: base directory of the fs store (default "data")
//   - ARCHIVE_S3_BUCKET (required), ARCHIVE_S3_REGION or AWS_REGION,
//     ARCHIVE_S3_ENDPOINT, ARCHIVE_S3_PREFIX
//   - ARCHIVE_GCS_BUCKET (required), ARCHIVE_GCS_PREFIX; needs -tags gcp
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	kind := StorageType(os.Getenv("ARCHIVE_STORAGE_TYPE"))
	if kind == "" {
		kind = StorageFS
	}
	switch kind {
	case StorageFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "evidence"))
	case StorageS3:
		return newS3StoreFromEnv(ctx)
	case StorageGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", kind)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_S3_BUCKET is required for S3 storage")
	}
	region := os.Getenv("ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARCHIVE_S3_PREFIX"),
	})
}
