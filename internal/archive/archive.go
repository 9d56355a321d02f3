// Package archive stores historical revisions of detail record documents.
// Every revision-tracked mutation snapshots the pre-image document under
// <repository>/<id>/<version>; purging a record's history removes the whole
// <repository>/<id>/ prefix. Backends: local filesystem (default), S3/MinIO,
// and in-memory for tests.
package archive

import (
	"context"
	"fmt"
)

// Driver identifies a concrete archive backend implementation.
type Driver string

const (
	// DriverFilesystem is the local filesystem backend (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 is an S3 / MinIO compatible backend.
	DriverS3 Driver = "s3"
	// DriverMemory is the in-memory backend used in tests.
	DriverMemory Driver = "memory"
)

// Store is the revision snapshot sink consumed by the version manager.
type Store interface {
	// Put writes one revision snapshot. Writing an existing key overwrites
	// it; a retried mutation re-archives the same pre-image.
	Put(ctx context.Context, key string, snapshot []byte) error
	// Get reads one revision snapshot back.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under a prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeletePrefix removes every key under the prefix and reports how many
	// were removed. Purging an empty prefix succeeds with zero.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Driver() Driver
}

// RevisionKey builds the archive key for one revision of a record.
func RevisionKey(repository, id string, version int64) string {
	return fmt.Sprintf("%s/%s/%012d", repository, id, version)
}

// RecordPrefix builds the archive prefix holding all revisions of a record.
func RecordPrefix(repository, id string) string {
	return fmt.Sprintf("%s/%s/", repository, id)
}
