// Package storage abstracts the object stores that hold finished
// catalog containers and archived reference images. The local backend
// exists for tests and single-host deployments; production archives go
// to S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for storage operations. Backends wrap the underlying
// cause so callers can errors.Is on these.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrDeleteFailed       = errors.New("delete failed")
)

// ObjectStorage is the archive backend for catalog products.
type ObjectStorage interface {
	// Upload streams body into objectPath. Meant for small payloads
	// like reports; large files go through UploadFile.
	Upload(ctx context.Context, objectPath string, body io.Reader) error

	// UploadFile copies a local file to objectPath. Backends may
	// switch to a multipart transfer for large files; callers never
	// see the difference.
	UploadFile(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to a local file, creating parent
	// directories as needed. Returns ErrObjectNotFound for missing
	// objects.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ConditionalPut uploads only if the stored object still carries
	// the given etag (empty etag means "create"). Returns
	// ErrPreconditionFailed when the object changed underneath us.
	ConditionalPut(ctx context.Context, localPath, objectPath, etag string) error

	// ListObjects returns every object path under prefix. Registry
	// reconciliation uses this to find orphaned archives.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// TransferConfig tunes large-object transfers.
type TransferConfig struct {
	// MultipartThreshold is the file size above which uploads switch
	// to multipart.
	MultipartThreshold int64
	// PartSize is the size of each multipart chunk.
	PartSize int64
}

// DefaultTransferConfig returns the transfer tuning used when the
// config file does not override it.
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		MultipartThreshold: 64 * 1024 * 1024,
		PartSize:           8 * 1024 * 1024,
	}
}
